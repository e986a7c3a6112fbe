package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"starforge/internal/config"
	"starforge/internal/domain"
)

func TestEventFilter(t *testing.T) {
	cases := []struct {
		name   string
		events []string
		evt    string
		want   bool
	}{
		{"empty list matches everything", nil, "issue.forged", true},
		{"blank entries collapse to match-all", []string{" ", ""}, "version.released", true},
		{"listed type matches", []string{"version.released"}, "version.released", true},
		{"unlisted type filtered", []string{"version.released"}, "issue.funded", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newEventFilter(tc.events)
			if got := f.match(tc.evt); got != tc.want {
				t.Fatalf("match(%q) = %v, want %v", tc.evt, got, tc.want)
			}
		})
	}
}

func TestPostEventHeadersAndBody(t *testing.T) {
	var gotReq *http.Request
	var gotBody webhookEvent
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReq = r.Clone(context.Background())
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode delivery: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()

	d := &webhookDispatcher{
		galaxy: "gal-1",
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
	hook := config.WebhookConfig{URL: target.URL, Secret: "hunter2"}
	evt := domain.Event{
		ID: 7, TS: "2024-01-01T00:00:00Z", Type: "version.released",
		GalaxyID: "gal-1", EntityKind: "version", EntityID: "v-1",
		ActorID: "maintainer", Payload: `{"tag":"v1.0.0"}`,
	}
	if err := d.postEvent(context.Background(), hook, evt); err != nil {
		t.Fatalf("post event: %v", err)
	}

	if got := gotReq.Header.Get("X-Starforge-Event"); got != "version.released" {
		t.Fatalf("event header = %q", got)
	}
	if got := gotReq.Header.Get("X-Starforge-Delivery"); got != "7" {
		t.Fatalf("delivery header = %q", got)
	}
	if got := gotReq.Header.Get("X-Starforge-Galaxy"); got != "gal-1" {
		t.Fatalf("galaxy header = %q", got)
	}
	if got := gotReq.Header.Get("X-Starforge-Secret"); got != "hunter2" {
		t.Fatalf("secret header = %q", got)
	}
	if gotBody.Type != "version.released" || gotBody.ID != 7 {
		t.Fatalf("unexpected delivery body: %+v", gotBody)
	}
	var payload map[string]string
	if err := json.Unmarshal(gotBody.Payload, &payload); err != nil || payload["tag"] != "v1.0.0" {
		t.Fatalf("payload = %s (%v)", gotBody.Payload, err)
	}
}

func TestDispatcherStopsOnContextCancel(t *testing.T) {
	d := &webhookDispatcher{
		galaxy:  "gal-1",
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		cursors: make(map[int]int64),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		d.run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("dispatcher kept running after cancel")
	}
}

func TestPostEventNon2xxIsError(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer target.Close()

	d := &webhookDispatcher{
		galaxy: "gal-1",
		client: &http.Client{Timeout: defaultWebhookTimeout},
	}
	err := d.postEvent(context.Background(), config.WebhookConfig{URL: target.URL}, domain.Event{ID: 1, Type: "issue.funded"})
	if err == nil {
		t.Fatalf("expected delivery failure")
	}
}
