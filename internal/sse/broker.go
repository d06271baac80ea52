// Package sse streams sync events to HTTP clients as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/mnemo/internal/syncer"
)

// EventIndexUpdated is a coalesced notice that a project's indexes changed.
const EventIndexUpdated = "index.updated"

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type projectEvent struct {
	Event
	project string
}

type subscription struct {
	ch      chan []byte
	project string // empty receives every project
}

// Broker manages SSE client connections and broadcasts events.
//
// A single event loop goroutine owns the client set and the per-project
// throttle clock. Public methods talk to it through channels.
type Broker struct {
	throttle time.Duration

	heartbeat time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan projectEvent
	syncCh        chan syncer.Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one index.updated event per
// project per throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		throttle:      throttle,
		heartbeat:     15 * time.Second,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan projectEvent, 256),
		syncCh:        make(chan syncer.Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	// client channel -> project filter
	clients := make(map[chan []byte]string)
	lastUpdate := make(map[string]time.Time)

	broadcast := func(project string, event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch, filter := range clients {
			if filter != "" && project != "" && filter != project {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.project

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case pe := <-b.publishCh:
			broadcast(pe.project, pe.Event)

		case ev := <-b.syncCh:
			switch ev.Type {
			case syncer.EventFileSynced, syncer.EventFileDeleted:
				broadcast(ev.ProjectID, Event{Type: ev.Type, Data: map[string]string{"project_id": ev.ProjectID, "path": ev.Path}})
			case syncer.EventProjectSynced:
				broadcast(ev.ProjectID, Event{Type: ev.Type, Data: ev.Report})
			default:
				continue
			}

			now := time.Now()
			if now.Sub(lastUpdate[ev.ProjectID]) >= b.throttle {
				lastUpdate[ev.ProjectID] = now
				broadcast(ev.ProjectID, Event{Type: EventIndexUpdated, Data: map[string]string{"project_id": ev.ProjectID}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client that receives every project's events.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeProject("")
}

// SubscribeProject adds a client that only receives events of project.
// Events published without a project reach every client.
func (b *Broker) SubscribeProject(project string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, project: project}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	b.PublishProject("", event)
}

// PublishProject sends an event to clients of project and to unfiltered
// clients.
func (b *Broker) PublishProject(project string, event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- projectEvent{Event: event, project: project}:
	case <-b.stopped:
	}
}

// PublishSync forwards a sync writer event followed by a throttled
// index.updated notice for its project. It matches syncer.WithEventFunc.
func (b *Broker) PublishSync(ev syncer.Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.syncCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). The optional
// project query parameter narrows the stream to one project. A comment line
// is written on every heartbeat so idle proxies keep the stream open.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeProject(r.URL.Query().Get("project"))
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
