// Package testrelay is an in-process relay for integration tests. It speaks
// the REQ/EVENT/EOSE/CLOSE/OK protocol over a real websocket served by
// httptest, keeps published events in memory and forwards them to matching
// live subscriptions.
package testrelay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/okian/askbot/internal/domain/model"
)

// Request is one REQ received from a client.
type Request struct {
	SubID   string
	Filters []model.Filter
}

// Relay is a minimal relay. The zero value is not usable; call New.
type Relay struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	eose    bool
	autoOK  bool
	connect atomic.Int32

	mu        sync.Mutex
	stored    []model.Event
	published []model.Event
	requests  []Request
	closes    []string
	peers     map[*peer]struct{}
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string][]model.Filter
}

// New starts a relay on a loopback listener.
func New(opts ...Option) *Relay {
	r := &Relay{
		eose:   true,
		autoOK: true,
		peers:  make(map[*peer]struct{}),
	}

	// Apply all options
	for _, opt := range opts {
		opt(r)
	}

	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	return r
}

// URL returns the ws:// address of the relay.
func (r *Relay) URL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// Close drops every connection and stops the server.
func (r *Relay) Close() {
	r.DropAll()
	r.srv.Close()
}

// Connections returns how many websocket sessions were accepted so far.
func (r *Relay) Connections() int { return int(r.connect.Load()) }

// Store adds events that REQs will see as stored history.
func (r *Relay) Store(evs ...model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored = append(r.stored, evs...)
}

// Broadcast stores evs and forwards them to every matching live subscription.
func (r *Relay) Broadcast(evs ...model.Event) {
	r.Store(evs...)
	for _, p := range r.snapshotPeers() {
		for _, ev := range evs {
			p.forward(ev)
		}
	}
}

// Published returns the events clients sent with EVENT frames.
func (r *Relay) Published() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.published...)
}

// Requests returns every REQ received, in arrival order.
func (r *Relay) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// Closes returns the subscription ids clients CLOSEd.
func (r *Relay) Closes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closes...)
}

// Send writes a raw text frame to every connected client.
func (r *Relay) Send(raw string) {
	for _, p := range r.snapshotPeers() {
		p.write([]byte(raw))
	}
}

// DropAll closes every client connection without a close handshake.
func (r *Relay) DropAll() {
	for _, p := range r.snapshotPeers() {
		_ = p.conn.Close()
	}
}

func (r *Relay) snapshotPeers() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.connect.Add(1)

	p := &peer{conn: conn, subs: make(map[string][]model.Filter)}
	r.mu.Lock()
	r.peers[p] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.peers, p)
		r.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.handle(p, data)
	}
}

func (r *Relay) handle(p *peer, data []byte) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || len(raw) < 2 {
		p.writeJSON([]any{"NOTICE", "invalid frame"})
		return
	}
	var label string
	_ = json.Unmarshal(raw[0], &label)

	switch label {
	case "REQ":
		var subID string
		_ = json.Unmarshal(raw[1], &subID)
		filters := make([]model.Filter, 0, len(raw)-2)
		for _, f := range raw[2:] {
			var filter model.Filter
			if err := json.Unmarshal(f, &filter); err == nil {
				filters = append(filters, filter)
			}
		}
		r.mu.Lock()
		r.requests = append(r.requests, Request{SubID: subID, Filters: filters})
		stored := append([]model.Event(nil), r.stored...)
		r.mu.Unlock()

		p.mu.Lock()
		p.subs[subID] = filters
		p.mu.Unlock()

		for _, ev := range query(stored, filters) {
			p.writeJSON([]any{"EVENT", subID, ev})
		}
		if r.eose {
			p.writeJSON([]any{"EOSE", subID})
		}
	case "CLOSE":
		var subID string
		_ = json.Unmarshal(raw[1], &subID)
		p.mu.Lock()
		delete(p.subs, subID)
		p.mu.Unlock()
		r.mu.Lock()
		r.closes = append(r.closes, subID)
		r.mu.Unlock()
	case "EVENT":
		var ev model.Event
		if err := json.Unmarshal(raw[1], &ev); err != nil {
			p.writeJSON([]any{"NOTICE", "invalid event"})
			return
		}
		r.mu.Lock()
		r.published = append(r.published, ev)
		r.mu.Unlock()
		if r.autoOK {
			p.writeJSON([]any{"OK", ev.ID, true, ""})
		}
		r.Broadcast(ev)
	}
}

// query returns stored events matching any filter, newest first, honoring
// each filter's limit.
func query(stored []model.Event, filters []model.Filter) []model.Event {
	sorted := append([]model.Event(nil), stored...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].CreatedAt > sorted[j].CreatedAt })

	seen := make(map[string]struct{})
	var out []model.Event
	for _, f := range filters {
		n := 0
		for _, ev := range sorted {
			if f.Limit > 0 && n >= f.Limit {
				break
			}
			if !f.Matches(ev) {
				continue
			}
			n++
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	return out
}

func (p *peer) forward(ev model.Event) {
	p.mu.Lock()
	var targets []string
	for id, filters := range p.subs {
		for _, f := range filters {
			if f.Matches(ev) {
				targets = append(targets, id)
				break
			}
		}
	}
	p.mu.Unlock()

	for _, id := range targets {
		p.writeJSON([]any{"EVENT", id, ev})
	}
}

func (p *peer) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	p.write(data)
}

func (p *peer) write(data []byte) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_ = p.conn.WriteMessage(websocket.TextMessage, data)
}
