package app

import (
	"net/http"
	"time"

	"beacon/cmd/internal/auth/revocation"
	"beacon/cmd/internal/presence"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	dbEnabled bool,
	registry *revocation.Registry,
	ws *presence.WSGateway,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && !dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbEnabled && dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("POST /logout", LogoutHandler(log, cfg, registry))

	mux.HandleFunc("/ws/{ws_id}", ws.HandleWS)
}

// LogoutHandler denylists the caller's credential and clears the cookie.
//
// Revocation takes effect for future connections; sessions already live on
// this credential stay up until they disconnect.
func LogoutHandler(log Logger, cfg Config, registry *revocation.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(cfg.AuthCookieName)
		if err != nil || ck.Value == "" {
			http.Error(w, "no credential", http.StatusUnauthorized)
			return
		}

		if err := registry.Revoke(r.Context(), ck.Value); err != nil {
			log.Error("logout.revoke.fail", "err", err)
			http.Error(w, "revoke failed", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     cfg.AuthCookieName,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"message":"logged out"}`))
	}
}
