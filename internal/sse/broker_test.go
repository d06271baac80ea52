package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/mnemo/internal/syncer"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "file.synced", Data: map[string]string{"path": "a.ts"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: file.synced") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.ts"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishSync_Throttle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First event per project triggers index.updated, the second does not.
	b.PublishSync(syncer.Event{Type: syncer.EventFileSynced, ProjectID: "web", Path: "a.ts"})
	b.PublishSync(syncer.Event{Type: syncer.EventFileDeleted, ProjectID: "web", Path: "b.ts"})
	// Another project has its own clock.
	b.PublishSync(syncer.Event{Type: syncer.EventProjectSynced, ProjectID: "api",
		Report: &syncer.Report{ProjectID: "api", Upserted: 3, Skipped: []string{}}})

	time.Sleep(50 * time.Millisecond)
	updates := 0
	other := 0
	var report string
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			switch {
			case strings.Contains(s, "event: "+EventIndexUpdated):
				updates++
			case strings.Contains(s, "event: project.synced"):
				report = s
				other++
			default:
				other++
			}
		default:
			break loop
		}
	}

	if other != 3 {
		t.Errorf("sync events = %d, want 3", other)
	}
	if updates != 2 {
		t.Errorf("index.updated events = %d, want 2 (one per project)", updates)
	}
	if !strings.Contains(report, `"upserted":3`) {
		t.Errorf("project.synced payload missing report: %q", report)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Publish(Event{Type: "file.deleted", Data: map[string]string{"path": "x.ts"}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: file.deleted") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Fill buffer (capacity 64) and then one more should not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	// If we reach here without deadlock, the test passes.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: "file.deleted", Data: map[string]string{"path": "x.ts"}})
	b.PublishSync(syncer.Event{Type: syncer.EventFileSynced, ProjectID: "web", Path: "x.ts"})
}

func TestSubscribeProject_Filters(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	web := b.SubscribeProject("web")
	defer b.Unsubscribe(web)
	all := b.Subscribe()
	defer b.Unsubscribe(all)

	b.PublishSync(syncer.Event{Type: syncer.EventFileSynced, ProjectID: "api", Path: "a.go"})
	b.PublishProject("web", Event{Type: "custom", Data: map[string]string{}})
	b.Publish(Event{Type: "global", Data: map[string]string{}})
	time.Sleep(50 * time.Millisecond)

	drain := func(ch chan []byte) []string {
		var out []string
		for {
			select {
			case msg := <-ch:
				out = append(out, string(msg))
			default:
				return out
			}
		}
	}

	webMsgs := drain(web)
	if len(webMsgs) != 2 {
		t.Fatalf("web client got %d events, want 2: %q", len(webMsgs), webMsgs)
	}
	for _, m := range webMsgs {
		if strings.Contains(m, "a.go") {
			t.Errorf("web client received another project's event: %q", m)
		}
	}
	// file.synced + index.updated for api, custom, global
	if got := len(drain(all)); got != 4 {
		t.Errorf("unfiltered client got %d events, want 4", got)
	}
}
