// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package discovery implements the Discovery → Core handoff contract of
// spec.md §6: it produces (role, peer_endpoint, connected_stream) tuples
// and hands them to the session core. Service discovery plumbing itself
// (mDNS register/browse, BLE scanning/advertising) is explicitly out of
// scope for the core (spec.md §1); this package carries just enough of it
// — a plain TCP listener and dialer addressed by the caller, who is
// expected to have resolved a peer by whatever local mechanism a given
// deployment wires up — to exercise the handoff end to end from
// cmd/beamshare. Neither mDNS nor BLE advertising is implemented here:
// no mDNS library in the retrieved corpus had a source file demonstrating
// its real API closely enough to ground an implementation against, and no
// portable BLE stack appears anywhere in it either.
package discovery

import (
	"context"
	"net"

	"github.com/beamshare/beamshare/session"
	"github.com/beamshare/beamshare/wire"
)

// Handoff is one (role, peer endpoint, connected stream) tuple ready to
// become a session.
type Handoff struct {
	Role session.Role
	Peer wire.EndpointInfo
	Addr net.Addr
	Conn net.Conn
}

// Listener accepts inbound TCP connections and hands them off with
// session.Inbound. The peer's EndpointInfo is not yet known at accept
// time, so Handoff.Peer is left zero; it arrives over the wire as the
// first ConnectionRequest frame, which the inbound Session records when
// Run reads it.
type Listener struct {
	ln net.Listener
}

// Listen binds addr (e.g. ":0" to pick an ephemeral port; Addr reports
// the port actually bound).
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{ln: ln}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept blocks for the next inbound connection and returns its handoff.
func (l *Listener) Accept() (Handoff, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return Handoff{}, err
	}
	return Handoff{Role: session.Inbound, Addr: conn.RemoteAddr(), Conn: conn}, nil
}

// Dial connects to a peer discovered out of band (by address) and
// produces an outbound handoff. Handoff.Peer is left zero.
func Dial(ctx context.Context, addr string) (Handoff, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Handoff{}, err
	}
	return Handoff{Role: session.Outbound, Addr: conn.RemoteAddr(), Conn: conn}, nil
}
