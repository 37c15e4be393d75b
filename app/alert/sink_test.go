package alert

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNotifyDeliversPayload(t *testing.T) {
	received := make(chan map[string]any, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("Failed to decode alert body: %v", err)
		}
		received <- body
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL)
	sink.Notify("task_failed", map[string]any{"task_id": "t1", "error": "all sources down"})

	select {
	case body := <-received:
		if body["event"] != "task_failed" {
			t.Errorf("Expected event task_failed, got %v", body["event"])
		}
		if body["task_id"] != "t1" {
			t.Errorf("Expected task id t1, got %v", body["task_id"])
		}
		if body["timestamp"] == nil {
			t.Error("Expected timestamp in payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Alert was not delivered")
	}
}

func TestNotifyNoopWithoutURL(t *testing.T) {
	sink := NewWebhookSink("")
	// Must not panic or block.
	sink.Notify("task_failed", map[string]any{"task_id": "t1"})
}
