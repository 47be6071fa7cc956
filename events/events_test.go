// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package events

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beamshare/beamshare/session"
)

func TestBroadcastReachesClient(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	eventsIn, _ := h.Register("sess-1")
	time.Sleep(10 * time.Millisecond) // let ServeWS register the client

	eventsIn <- session.Event{
		SessionID: "sess-1",
		Metadata:  &session.Metadata{Pin: "1234", TotalBytes: 100, AckBytes: 50},
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env eventEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatal(err)
	}
	if env.SessionID != "sess-1" || env.Metadata == nil || env.Metadata.Pin != "1234" {
		t.Fatalf("got %+v", env)
	}
}

func TestCommandRoutesToSession(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	_, commandsOut := h.Register("sess-2")
	time.Sleep(10 * time.Millisecond)

	if err := conn.WriteJSON(commandEnvelope{SessionID: "sess-2", Command: jsonConsentAccept}); err != nil {
		t.Fatal(err)
	}

	select {
	case cmd := <-commandsOut:
		if cmd != session.ConsentAccept {
			t.Fatalf("got %v, want ConsentAccept", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed command")
	}
}

func TestUnknownSessionCommandIsDropped(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(commandEnvelope{SessionID: "ghost", Command: jsonConsentAccept}); err != nil {
		t.Fatal(err)
	}
	// No session registered under "ghost": nothing to assert beyond the
	// server not crashing or hanging, proven by the deferred Close below.
	time.Sleep(10 * time.Millisecond)
}
