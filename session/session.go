// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package session drives one connection through the state graph of
// spec.md §4.4: UKEY2 key agreement, the paired-key fallback exchange,
// consent gating, and bidirectional file transfer. One Session exists per
// connection, owned and mutated exclusively by the goroutine that calls
// Run (spec.md §5: "all state mutation happens on the driver").
//
// The shape — a Role-driven struct carrying a net.Conn plus framing and
// record-layer handles, with its protocol steps as ordinary sequential Go
// calls — follows the teacher's session/kx.go KX type and its
// Initiate/Respond pair, generalized from a two-step NTRU exchange to the
// longer UKEY2-plus-application handshake spec.md requires.
package session

import (
	"fmt"
	"io"
	"net"

	"github.com/beamshare/beamshare/framing"
	"github.com/beamshare/beamshare/record"
	"github.com/beamshare/beamshare/transfer"
	"github.com/beamshare/beamshare/ukey2"
	"github.com/beamshare/beamshare/wire"
)

// Role is which side of the connection this Session drives.
type Role int

const (
	Inbound Role = iota
	Outbound
)

func (r Role) String() string {
	if r == Outbound {
		return "outbound"
	}
	return "inbound"
}

// State is one node of spec.md §4.4's state graph.
type State int

const (
	StateInitial State = iota
	StateReceivedConnectionRequest
	StateSentUkeyClientInit
	StateSentUkeyServerInit
	StateReceivedUkeyClientFinish
	StateSentUkeyClientFinish
	StateSentConnectionResponse
	StateSentPairedKeyEncryption
	StateReceivedPairedKeyResult
	StateSentPairedKeyResult
	StateWaitingForUserConsent
	StateSentIntroduction
	StateReceivingFiles
	StateSendingFiles
	StateFinished
	StateCancelled
	StateRejected
	StateDisconnected
)

var stateNames = [...]string{
	"Initial", "ReceivedConnectionRequest", "SentUkeyClientInit",
	"SentUkeyServerInit", "ReceivedUkeyClientFinish", "SentUkeyClientFinish",
	"SentConnectionResponse", "SentPairedKeyEncryption", "ReceivedPairedKeyResult",
	"SentPairedKeyResult", "WaitingForUserConsent", "SentIntroduction",
	"ReceivingFiles", "SendingFiles", "Finished", "Cancelled", "Rejected",
	"Disconnected",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether s is one of the four absorbing states.
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateCancelled, StateRejected, StateDisconnected:
		return true
	default:
		return false
	}
}

// Command is a UI → Core instruction for one session (spec.md §6).
type Command int

const (
	ConsentAccept Command = iota
	ConsentDecline
	TransferCancel
)

// Metadata is the user-facing transfer snapshot broadcast to the UI
// channel (spec.md §3 transfer_metadata).
type Metadata struct {
	SourceDevice wire.EndpointInfo
	Pin          string
	Files        []string
	TextPreview  string
	TotalBytes   int64
	AckBytes     int64
}

// Event is one Core → UI notification (spec.md §6).
type Event struct {
	SessionID string
	Metadata  *Metadata // non-nil on progress/introduction updates
	Terminal  *State    // non-nil exactly once, on session exit
}

// Offer describes one payload an outbound session intends to send.
// Open is invoked once, lazily, when the transfer engine is ready to
// stream that payload's bytes; small in-memory payloads typically wrap
// a bytes.Reader.
type Offer struct {
	Descriptor wire.PayloadDescriptor
	Open       func() (io.ReadCloser, error)
}

// Session is one connection's worth of protocol and transfer state
// (spec.md §3 InnerState). Zero value is not usable; construct with New.
type Session struct {
	ID   string
	Role Role

	conn net.Conn
	fr   *framing.Reader
	fw   *framing.Writer
	rec  *record.Layer

	local  wire.EndpointInfo
	remote wire.EndpointInfo

	state     State
	pin       string
	handshake *ukey2.Result // raw transcript buffers, scrubbed in zero()

	transferMgr *transfer.Manager
	lastDecoded *transfer.Decoded // most recent fully-assembled in-memory payload
	offers      []Offer // outbound only

	events   chan<- Event
	commands <-chan Command

	maxHandshakeFrame uint32
	maxPayloadFrame   uint32
}

// Config bundles the inputs New needs beyond the bare socket.
type Config struct {
	ID            string
	Role          Role
	Conn          net.Conn
	Local         wire.EndpointInfo
	DownloadsRoot string // inbound only

	Offers []Offer // outbound only

	Events   chan<- Event
	Commands <-chan Command

	MaxHandshakeFrame uint32
	MaxPayloadFrame   uint32
}

// New constructs a driver-ready Session. The caller retains the send end
// of Events and owns the receive end of Commands (spec.md §9's
// cyclic-reference-avoidance contract: the session never holds a
// receiver of its own events).
func New(cfg Config) *Session {
	s := &Session{
		ID:                cfg.ID,
		Role:              cfg.Role,
		conn:              cfg.Conn,
		local:             cfg.Local,
		state:             StateInitial,
		transferMgr:       transfer.NewManager(cfg.DownloadsRoot),
		offers:            cfg.Offers,
		events:            cfg.Events,
		commands:          cfg.Commands,
		maxHandshakeFrame: cfg.MaxHandshakeFrame,
		maxPayloadFrame:   cfg.MaxPayloadFrame,
	}
	s.fr = framing.NewReader(cfg.Conn, s.maxHandshakeFrame)
	s.fw = framing.NewWriter(cfg.Conn, s.maxHandshakeFrame)
	return s
}

// State returns the session's current state. Only meaningful to call from
// the driver goroutine itself or after Run has returned.
func (s *Session) State() State { return s.state }

// Close releases the underlying connection. Callers must invoke it after
// Run returns (or to force an in-flight Run to unblock its reader
// sub-task and return promptly on cancellation).
func (s *Session) Close() error { return s.conn.Close() }

func (s *Session) setState(st State) { s.state = st }

// armRecordLayer arms the encrypted transport and widens the frame limit
// to the payload-chunk default, matching spec.md §4.1's "higher for bulk
// payload chunks" allowance. It also retains result's raw handshake
// buffers so zero can scrub them on drop.
func (s *Session) armRecordLayer(result *ukey2.Result) {
	s.rec = record.New(result.Send, result.Recv)
	s.pin = result.Pin
	s.handshake = result
	s.fr.MaxLen = s.maxPayloadFrame
	s.fw.MaxLen = s.maxPayloadFrame
}

// zero implements spec.md §3's scoped-cleanup invariant: on drop, key
// material and the raw handshake transcript buffers are scrubbed and any
// partially-written file is removed unless the session reached Finished.
func (s *Session) zero() {
	s.rec.Zero()
	s.handshake.Zero()
	if s.state != StateFinished {
		s.transferMgr.Cleanup()
	}
}

func (s *Session) emit(ev Event) {
	if s.events == nil {
		return
	}
	ev.SessionID = s.ID
	select {
	case s.events <- ev:
	default:
		// A full event channel must never block the driver (spec.md §9):
		// the UI is a best-effort observer, not a protocol participant.
	}
}

func (s *Session) metadata() Metadata {
	return Metadata{
		SourceDevice: s.remote,
		Pin:          s.pin,
		TotalBytes:   s.transferMgr.TotalBytes(),
		AckBytes:     s.transferMgr.AckBytes(),
	}
}
