package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcherDeliversSignedEvent(t *testing.T) {
	received := make(chan *http.Request, 1)
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = b
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]Endpoint{{URL: srv.URL, Secret: "whsec_test"}})
	d.Start()

	event := Event{
		Type:          EventRolloutRolledBack,
		Timestamp:     time.Now(),
		SafeRolloutID: "sr-1",
		FeatureID:     "checkout",
		Environment:   "production",
		Reasons:       []string{"guardrails"},
	}
	d.Dispatch(event)

	var req *http.Request
	select {
	case req = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("endpoint never called")
	}
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := req.Header.Get("X-SafeRollout-Event"); got != EventRolloutRolledBack {
		t.Errorf("event header = %q", got)
	}
	if req.Header.Get("X-SafeRollout-Delivery") == "" {
		t.Error("missing delivery id header")
	}
	sig := req.Header.Get("X-SafeRollout-Signature")
	if !VerifySignature(body, sig, "whsec_test") {
		t.Errorf("signature %q does not verify", sig)
	}

	var decoded Event
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.SafeRolloutID != "sr-1" || len(decoded.Reasons) != 1 {
		t.Errorf("payload = %+v", decoded)
	}
}

func TestDispatcherRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]Endpoint{{URL: srv.URL, MaxRetries: 1}})
	d.Start()
	d.Dispatch(Event{Type: EventRolloutUnhealthy, SafeRolloutID: "sr-1"})
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	d := NewDispatcher(nil)
	d.Start()
	if err := d.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"event":"rollout.released"}`)
	sig := ComputeHMAC(payload, "secret")
	if !VerifySignature(payload, sig, "secret") {
		t.Error("valid signature rejected")
	}
	if VerifySignature(payload, sig, "other") {
		t.Error("wrong secret accepted")
	}
	if VerifySignature([]byte("tampered"), sig, "secret") {
		t.Error("tampered payload accepted")
	}
}
