// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package events bridges the Core ↔ UI boundary of spec.md §6 over a
// WebSocket, in the shape of the teacher's zkserver/socketapi JSON command
// envelopes and the retrieved corpus's gorilla/websocket hub pattern
// (leebo-zerogo's internal/controller/ws.go WSHandler). One Hub serves any
// number of UI clients; each session registers its own Event/Command pair
// and is unregistered the moment it reaches a terminal state, so the Hub
// never outlives the sessions it forwards for and a session never holds a
// receive-end of its own events (spec.md §9 cyclic-reference avoidance).
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamshare/beamshare/session"
	"github.com/beamshare/beamshare/zlog"
)

var log = zlog.New("events")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// commandEnvelope is the JSON shape a UI client sends to steer one session.
type commandEnvelope struct {
	SessionID string `json:"session_id"`
	Command   string `json:"command"`
}

const (
	jsonConsentAccept  = "accept"
	jsonConsentDecline = "decline"
	jsonTransferCancel = "cancel"
)

func parseCommand(s string) (session.Command, bool) {
	switch s {
	case jsonConsentAccept:
		return session.ConsentAccept, true
	case jsonConsentDecline:
		return session.ConsentDecline, true
	case jsonTransferCancel:
		return session.TransferCancel, true
	default:
		return 0, false
	}
}

// metadataEnvelope is the JSON shape of session.Metadata.
type metadataEnvelope struct {
	SourceDeviceName string   `json:"source_device_name"`
	Pin              string   `json:"pin,omitempty"`
	Files            []string `json:"files,omitempty"`
	TextPreview      string   `json:"text_preview,omitempty"`
	TotalBytes       int64    `json:"total_bytes"`
	AckBytes         int64    `json:"ack_bytes"`
}

// eventEnvelope is the JSON shape broadcast for every session.Event.
type eventEnvelope struct {
	SessionID string            `json:"session_id"`
	Metadata  *metadataEnvelope `json:"metadata,omitempty"`
	Terminal  string            `json:"terminal,omitempty"`
}

func toEnvelope(ev session.Event) eventEnvelope {
	out := eventEnvelope{SessionID: ev.SessionID}
	if ev.Metadata != nil {
		out.Metadata = &metadataEnvelope{
			SourceDeviceName: ev.Metadata.SourceDevice.Name,
			Pin:              ev.Metadata.Pin,
			Files:            ev.Metadata.Files,
			TextPreview:      ev.Metadata.TextPreview,
			TotalBytes:       ev.Metadata.TotalBytes,
			AckBytes:         ev.Metadata.AckBytes,
		}
	}
	if ev.Terminal != nil {
		out.Terminal = ev.Terminal.String()
	}
	return out
}

// Hub fans every registered session's Event stream out to every connected
// UI client, and routes inbound commandEnvelope messages back to the named
// session's Command channel.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*websocket.Conn]*sync.Mutex // one write lock per connection
	sessions map[string]chan<- session.Command
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients:  make(map[*websocket.Conn]*sync.Mutex),
		sessions: make(map[string]chan<- session.Command),
	}
}

// Register wires a new session into the hub and returns the Events/Commands
// pair to pass into session.Config. The returned channels are closed-safe:
// the caller's session owns writing to eventsIn and reading from
// commandsOut for the session's lifetime.
func (h *Hub) Register(id string) (eventsIn chan session.Event, commandsOut chan session.Command) {
	eventsIn = make(chan session.Event, 64)
	commandsOut = make(chan session.Command, 4)

	h.mu.Lock()
	h.sessions[id] = commandsOut
	h.mu.Unlock()

	go h.pump(id, eventsIn)
	return eventsIn, commandsOut
}

func (h *Hub) pump(id string, in <-chan session.Event) {
	for ev := range in {
		h.broadcast(toEnvelope(ev))
		if ev.Terminal != nil {
			h.mu.Lock()
			delete(h.sessions, id)
			h.mu.Unlock()
		}
	}
}

// broadcast writes env to every connected client. gorilla/websocket allows
// at most one concurrent writer per connection, and two sessions' pump
// goroutines can call broadcast at the same time, so each connection's
// writes are serialized through its own lock rather than h.mu (which only
// protects the client/session maps, not the connections themselves).
func (h *Hub) broadcast(env eventEnvelope) {
	h.mu.RLock()
	locks := make(map[*websocket.Conn]*sync.Mutex, len(h.clients))
	for conn, wmu := range h.clients {
		locks[conn] = wmu
	}
	h.mu.RUnlock()

	for conn, wmu := range locks {
		wmu.Lock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		err := conn.WriteJSON(env)
		wmu.Unlock()
		if err != nil {
			log.Warn("dropping ui client after write error: %v", err)
			go conn.Close()
		}
	}
}

// ServeWS upgrades r into a long-lived UI client connection: it receives
// every broadcast Event and may send commandEnvelope messages to steer any
// registered session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = &sync.Mutex{}
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Dbg("ui client read error: %v", err)
			}
			return
		}

		var env commandEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn("malformed command from ui client: %v", err)
			continue
		}
		cmd, ok := parseCommand(env.Command)
		if !ok {
			log.Warn("unknown command %q for session %v", env.Command, env.SessionID)
			continue
		}

		h.mu.RLock()
		target, ok := h.sessions[env.SessionID]
		h.mu.RUnlock()
		if !ok {
			log.Dbg("command for unknown or finished session %v", env.SessionID)
			continue
		}
		select {
		case target <- cmd:
		default:
			log.Warn("command channel for session %v is full, dropping %v", env.SessionID, env.Command)
		}
	}
}
