package dispatcher

import (
	"encoding/json"
	"testing"
)

func TestCommandMessageIDSynonyms(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"commandId", `{"commandId":"c1"}`, "c1"},
		{"command_id", `{"command_id":"c2"}`, "c2"},
		{"bare id", `{"id":"c3"}`, "c3"},
		{"commandId wins over id", `{"id":"x","commandId":"c4"}`, "c4"},
		{"missing", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg CommandMessage
			if err := json.Unmarshal([]byte(tt.body), &msg); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if got := msg.CommandIDValue(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCommandMessageKindSynonyms(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"command", `{"command":"locate"}`, "locate"},
		{"command_type", `{"command_type":"reboot"}`, "reboot"},
		{"kind", `{"kind":"engine_stop"}`, "engine_stop"},
		{"command wins", `{"command":"locate","kind":"reboot"}`, "locate"},
		{"missing", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var msg CommandMessage
			if err := json.Unmarshal([]byte(tt.body), &msg); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if got := msg.KindValue(); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCommandMessageToleratesMissingFields(t *testing.T) {
	var msg CommandMessage
	if err := json.Unmarshal([]byte(`{"imei":"999","command":"locate"}`), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.IMEI != "999" || msg.KindValue() != "locate" {
		t.Errorf("Unexpected parse: %+v", msg)
	}
	if msg.TargetHost != "" {
		t.Error("Dispatcher payload must not look like bridge traffic")
	}
}

func TestBridgePayloadDiscriminator(t *testing.T) {
	var msg CommandMessage
	body := `{"targetHost":"10.0.0.1","targetPort":9000,"rawCommand":"DWXX#"}`
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if msg.TargetHost == "" {
		t.Error("Bridge payloads must be recognized by targetHost")
	}
}
