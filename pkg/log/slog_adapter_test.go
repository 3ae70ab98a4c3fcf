package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"
)

func newJSONAdapter(buf *bytes.Buffer) *SlogAdapter {
	handler := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogAdapter(slog.New(handler))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterLogsFrameEvent(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf)

	adapter.Log(Event{
		Timestamp:    time.Now(),
		ConnectionID: "conn-123",
		Direction:    DirectionIn,
		Layer:        LayerTransport,
		Category:     CategoryMessage,
		Frame: &FrameEvent{
			Size: 256,
			Data: []byte{0x01, 0x02},
		},
	})

	entry := decodeEntry(t, &buf)
	if entry["conn_id"] != "conn-123" {
		t.Errorf("conn_id: got %v, want %q", entry["conn_id"], "conn-123")
	}
	if entry["direction"] != "IN" {
		t.Errorf("direction: got %v, want %q", entry["direction"], "IN")
	}
	if entry["layer"] != "TRANSPORT" {
		t.Errorf("layer: got %v, want %q", entry["layer"], "TRANSPORT")
	}
	if entry["frame_size"] != float64(256) {
		t.Errorf("frame_size: got %v, want %v", entry["frame_size"], 256)
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level: got %v, want DEBUG", entry["level"])
	}
}

func TestSlogAdapterLogsErrorAtWarn(t *testing.T) {
	var buf bytes.Buffer
	adapter := newJSONAdapter(&buf)

	rec := Recorder{Logger: adapter, ConnectionID: "conn-9", Role: RoleResponder}
	rec.Error(LayerChannel, errors.New("message authentication failed"), "AuthenticationError", "decrypt")

	entry := decodeEntry(t, &buf)
	if entry["level"] != "WARN" {
		t.Errorf("level: got %v, want WARN", entry["level"])
	}
	if entry["error_kind"] != "AuthenticationError" {
		t.Errorf("error_kind: got %v", entry["error_kind"])
	}
	if entry["role"] != "RESPONDER" {
		t.Errorf("role: got %v", entry["role"])
	}
}
