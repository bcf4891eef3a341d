package presence

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"event":"position","x":3,"y":7}`)
	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != "position" {
		t.Fatalf("type=%q want position", ev.Type)
	}
	if !bytes.Equal(ev.Bytes(), raw) {
		t.Fatalf("raw bytes not preserved: %s", ev.Bytes())
	}

	var p struct {
		X int `json:"x"`
		Y int `json:"y"`
	}
	if err := ev.Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.X != 3 || p.Y != 7 {
		t.Fatalf("payload=%+v", p)
	}
}

func TestParseEvent_Errors(t *testing.T) {
	t.Parallel()

	if _, err := ParseEvent([]byte(`not json`)); !errors.Is(err, ErrBadEventJSON) {
		t.Fatalf("err=%v want ErrBadEventJSON", err)
	}
	if _, err := ParseEvent([]byte(`{"x":1}`)); !errors.Is(err, ErrMissingEventType) {
		t.Fatalf("err=%v want ErrMissingEventType", err)
	}
	if _, err := ParseEvent([]byte(`{"event":"  "}`)); !errors.Is(err, ErrMissingEventType) {
		t.Fatalf("err=%v want ErrMissingEventType", err)
	}
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	ev := NewEvent(EventLogin, map[string]any{"player_id": "u1"})
	if ev.Type != EventLogin {
		t.Fatalf("type=%q", ev.Type)
	}

	var obj map[string]any
	if err := json.Unmarshal(ev.Bytes(), &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["event"] != EventLogin || obj["player_id"] != "u1" {
		t.Fatalf("wire object=%v", obj)
	}

	// A built event must round-trip through the parser.
	back, err := ParseEvent(ev.Bytes())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if back.Type != EventLogin {
		t.Fatalf("reparsed type=%q", back.Type)
	}
}
