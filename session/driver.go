// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/beamshare/beamshare/bserr"
	"github.com/beamshare/beamshare/ukey2"
	"github.com/beamshare/beamshare/wire"
)

const sendChunkSize = 256 * 1024

// Run drives the session through its entire lifecycle: handshake, paired
// key fallback, consent, transfer, and teardown. It returns once the
// session reaches a terminal state, either because it completed normally
// or because ctx was cancelled. The driver goroutine is the sole owner of
// all session state (spec.md §5); Run must not be called concurrently
// with itself for the same Session.
func (s *Session) Run(ctx context.Context) error {
	defer s.zero()

	var err error
	if s.Role == Outbound {
		err = s.runOutbound(ctx)
	} else {
		err = s.runInbound(ctx)
	}
	if err != nil && !s.state.Terminal() {
		s.setState(StateDisconnected)
	}

	term := s.state
	s.emit(Event{Terminal: &term})
	return err
}

func (s *Session) runInbound(ctx context.Context) error {
	const op = "session.runInbound"

	reqBytes, err := s.fr.ReadFrame()
	if err != nil {
		return bserr.New(bserr.TransportFailure, op, err)
	}
	var req wire.ConnectionRequest
	if err := wire.Unmarshal(reqBytes, &req); err != nil {
		return bserr.New(bserr.ProtocolViolation, op, err)
	}
	s.remote = req.Info
	s.setState(StateReceivedConnectionRequest)

	result, err := ukey2.RunResponder(s.fr, s.fw)
	if err != nil {
		return err
	}
	s.setState(StateReceivedUkeyClientFinish)
	s.armRecordLayer(result)

	if err := s.sendSecure(wire.CmdConnectionResponse, wire.ConnectionResponse{Accepted: true}); err != nil {
		return err
	}
	s.setState(StateSentConnectionResponse)

	if err := s.pairedKeyExchange(); err != nil {
		return err
	}

	cmd, payload, err := s.recvSecure()
	if err != nil {
		return err
	}
	if cmd != wire.CmdIntroduction {
		return bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("expected introduction, got %v", cmd))
	}
	var intro wire.Introduction
	if err := wire.Unmarshal(payload, &intro); err != nil {
		return bserr.New(bserr.ProtocolViolation, op, err)
	}
	s.transferMgr.Introduce(intro.Payloads)
	s.setState(StateWaitingForUserConsent)
	s.emit(Event{Metadata: s.receivedMetadata(intro.Payloads)})

	select {
	case <-ctx.Done():
		s.setState(StateCancelled)
		return bserr.New(bserr.Cancellation, op, ctx.Err())
	case cmd := <-s.commands:
		switch cmd {
		case ConsentAccept:
			if err := s.sendSecure(wire.CmdTransferAccept, wire.TransferAccept{}); err != nil {
				return err
			}
			s.setState(StateReceivingFiles)
		case ConsentDecline:
			s.sendSecureBestEffort(wire.CmdDisconnection, wire.Disconnection{Reason: "declined"})
			s.setState(StateRejected)
			return nil
		case TransferCancel:
			s.sendSecureBestEffort(wire.CmdDisconnection, wire.Disconnection{Reason: "cancelled"})
			s.setState(StateCancelled)
			return nil
		}
	}

	return s.receiveFiles(ctx)
}

func (s *Session) runOutbound(ctx context.Context) error {
	const op = "session.runOutbound"

	reqBytes, err := wire.Marshal(wire.ConnectionRequest{Info: s.local})
	if err != nil {
		return bserr.New(bserr.ProtocolViolation, op, err)
	}
	if err := s.fw.WriteFrame(reqBytes); err != nil {
		return bserr.New(bserr.TransportFailure, op, err)
	}
	s.setState(StateSentUkeyClientInit)

	result, err := ukey2.RunInitiator(s.fr, s.fw)
	if err != nil {
		return err
	}
	s.setState(StateSentUkeyClientFinish)
	s.armRecordLayer(result)

	cmd, payload, err := s.recvSecure()
	if err != nil {
		return err
	}
	if cmd != wire.CmdConnectionResponse {
		return bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("expected connection response, got %v", cmd))
	}
	var resp wire.ConnectionResponse
	if err := wire.Unmarshal(payload, &resp); err != nil {
		return bserr.New(bserr.ProtocolViolation, op, err)
	}
	if !resp.Accepted {
		s.setState(StateRejected)
		return nil
	}

	if err := s.pairedKeyExchange(); err != nil {
		return err
	}

	payloads := make([]wire.PayloadDescriptor, len(s.offers))
	for i, o := range s.offers {
		payloads[i] = o.Descriptor
	}
	if err := s.sendSecure(wire.CmdIntroduction, wire.Introduction{Payloads: payloads}); err != nil {
		return err
	}
	s.setState(StateSentIntroduction)
	s.transferMgr.Introduce(payloads)

	cmd, _, err = s.recvSecure()
	if err != nil {
		return err
	}
	switch cmd {
	case wire.CmdTransferAccept:
		s.setState(StateSendingFiles)
		return s.sendFiles(ctx)
	case wire.CmdDisconnection:
		s.setState(StateRejected)
		return nil
	default:
		return bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("unexpected frame %v after introduction", cmd))
	}
}

// pairedKeyExchange runs the symmetric two-round-trip fallback of
// spec.md §4.4 item 4: since neither side in this implementation ever
// has a prior pairing (spec.md Open Question (b)), both directions
// answer Unable.
func (s *Session) pairedKeyExchange() error {
	const op = "session.pairedKeyExchange"

	if err := s.sendSecure(wire.CmdPairedKeyEncryption, wire.PairedKeyEncryption{}); err != nil {
		return err
	}
	s.setState(StateSentPairedKeyEncryption)

	cmd, _, err := s.recvSecure()
	if err != nil {
		return err
	}
	if cmd != wire.CmdPairedKeyEncryption {
		return bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("expected paired key encryption, got %v", cmd))
	}

	if err := s.sendSecure(wire.CmdPairedKeyResult, wire.PairedKeyResult{Status: wire.PairedKeyUnable}); err != nil {
		return err
	}
	s.setState(StateSentPairedKeyResult)

	cmd, payload, err := s.recvSecure()
	if err != nil {
		return err
	}
	if cmd != wire.CmdPairedKeyResult {
		return bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("expected paired key result, got %v", cmd))
	}
	var res wire.PairedKeyResult
	if err := wire.Unmarshal(payload, &res); err != nil {
		return bserr.New(bserr.ProtocolViolation, op, err)
	}
	s.setState(StateReceivedPairedKeyResult)
	return nil
}

// frameResult is one decoded post-handshake application message, or the
// terminal error that ended the read loop.
type frameResult struct {
	cmd     wire.Command
	payload []byte
	err     error
}

// readLoop is the reader sub-task of spec.md §5: it drains framed,
// record-layer-wrapped messages into ch until the connection ends or ctx
// is cancelled. It never touches session state directly; only the driver
// goroutine reading from ch does.
func (s *Session) readLoop(ctx context.Context, ch chan<- frameResult) error {
	const op = "session.readLoop"
	defer close(ch)
	for {
		raw, err := s.fr.ReadFrame()
		if err != nil {
			send(ctx, ch, frameResult{err: bserr.New(bserr.TransportFailure, op, err)})
			return err
		}
		appMsg, err := s.rec.Unwrap(raw)
		if err != nil {
			send(ctx, ch, frameResult{err: err})
			return err
		}
		msg, rest, err := wire.DecodeApplicationMessage(appMsg)
		if err != nil {
			werr := bserr.New(bserr.ProtocolViolation, op, err)
			send(ctx, ch, frameResult{err: werr})
			return werr
		}
		payload, err := io.ReadAll(rest)
		if err != nil {
			werr := bserr.New(bserr.ProtocolViolation, op, err)
			send(ctx, ch, frameResult{err: werr})
			return werr
		}
		if !send(ctx, ch, frameResult{cmd: msg.Command, payload: payload}) {
			return ctx.Err()
		}
	}
}

func send(ctx context.Context, ch chan<- frameResult, fr frameResult) bool {
	select {
	case ch <- fr:
		return true
	case <-ctx.Done():
		return false
	}
}

// receiveFiles implements the inbound ReceivingFiles state: consume
// PayloadTransfer chunks until every introduced payload is complete,
// honoring cancellation from either the UI command channel or the
// process-level context.
func (s *Session) receiveFiles(ctx context.Context) error {
	const op = "session.receiveFiles"

	g, gctx := errgroup.WithContext(ctx)
	frameCh := make(chan frameResult)
	g.Go(func() error { return s.readLoop(gctx, frameCh) })

	for {
		select {
		case <-ctx.Done():
			s.transferMgr.Cancel()
			s.sendSecureBestEffort(wire.CmdDisconnection, wire.Disconnection{Reason: "cancelled"})
			s.setState(StateCancelled)
			return bserr.New(bserr.Cancellation, op, ctx.Err())

		case cmd := <-s.commands:
			if cmd == TransferCancel {
				s.transferMgr.Cancel()
				s.sendSecureBestEffort(wire.CmdDisconnection, wire.Disconnection{Reason: "cancelled"})
				s.setState(StateCancelled)
				return nil
			}

		case fr, ok := <-frameCh:
			if !ok {
				return nil
			}
			if fr.err != nil {
				s.transferMgr.Cancel()
				return fr.err
			}
			switch fr.cmd {
			case wire.CmdPayloadTransfer:
				var pt wire.PayloadTransfer
				if err := wire.Unmarshal(fr.payload, &pt); err != nil {
					return bserr.New(bserr.ProtocolViolation, op, err)
				}
				if pt.Cancel {
					s.transferMgr.Cancel()
					s.setState(StateCancelled)
					return nil
				}
				progress, decoded, _, err := s.transferMgr.WriteChunk(pt)
				if err != nil {
					s.transferMgr.Cancel()
					return err
				}
				if decoded != nil {
					s.lastDecoded = decoded
				}
				if progress != nil || decoded != nil {
					s.emit(Event{Metadata: s.progressMetadata()})
				}
				if s.transferMgr.AckBytes() >= s.transferMgr.TotalBytes() {
					s.sendSecureBestEffort(wire.CmdDisconnection, wire.Disconnection{Reason: "complete"})
					s.setState(StateFinished)
					return nil
				}
			case wire.CmdDisconnection:
				s.setState(StateDisconnected)
				return nil
			default:
				return bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("unexpected frame %v in state %v", fr.cmd, s.state))
			}
		}
	}
}

// sendFiles implements the outbound SendingFiles state: stream every
// offer's bytes as PayloadTransfer chunks while watching for the
// receiver's decline/cancel and the local UI cancel command.
func (s *Session) sendFiles(ctx context.Context) error {
	const op = "session.sendFiles"

	g, gctx := errgroup.WithContext(ctx)
	frameCh := make(chan frameResult)
	g.Go(func() error { return s.readLoop(gctx, frameCh) })

	var sentTotal int64

	abort := func(reason string, st State) error {
		s.sendSecureBestEffort(wire.CmdDisconnection, wire.Disconnection{Reason: reason})
		s.setState(st)
		if sentTotal == 0 {
			return nil
		}
		return bserr.New(bserr.Cancellation, op, errors.New(reason))
	}

	for _, offer := range s.offers {
		rc, err := offer.Open()
		if err != nil {
			return bserr.New(bserr.IoFailure, op, err)
		}

		var sentForPayload int64
		buf := make([]byte, sendChunkSize)
		for sentForPayload < offer.Descriptor.Size {
			select {
			case <-ctx.Done():
				rc.Close()
				return abort("cancelled", StateCancelled)
			case cmd := <-s.commands:
				if cmd == TransferCancel {
					rc.Close()
					return abort("cancelled", StateCancelled)
				}
			case fr := <-frameCh:
				rc.Close()
				if fr.err != nil {
					return fr.err
				}
				if fr.cmd == wire.CmdDisconnection {
					if sentTotal == 0 {
						s.setState(StateRejected)
						return nil
					}
					s.setState(StateCancelled)
					return nil
				}
				return bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("unexpected frame %v while sending", fr.cmd))
			default:
			}

			n, rerr := rc.Read(buf)
			if n > 0 {
				chunk := bytes.Clone(buf[:n])
				sentForPayload += int64(n)
				sentTotal += int64(n)
				last := sentForPayload >= offer.Descriptor.Size
				pt := wire.PayloadTransfer{
					PayloadID:   offer.Descriptor.ID,
					Offset:      sentForPayload - int64(n),
					Bytes:       chunk,
					IsLastChunk: last,
				}
				if err := s.sendSecure(wire.CmdPayloadTransfer, pt); err != nil {
					rc.Close()
					return err
				}
				s.emit(Event{Metadata: &Metadata{
					SourceDevice: s.local,
					Pin:          s.pin,
					TotalBytes:   s.transferMgr.TotalBytes(),
					AckBytes:     sentTotal,
				}})
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				rc.Close()
				return bserr.New(bserr.IoFailure, op, rerr)
			}
		}
		rc.Close()
	}

	s.sendSecureBestEffort(wire.CmdDisconnection, wire.Disconnection{Reason: "complete"})
	s.setState(StateFinished)
	return nil
}

func (s *Session) sendSecure(cmd wire.Command, payload interface{}) error {
	const op = "session.sendSecure"
	appMsg, err := wire.EncodeApplicationMessage(cmd, payload)
	if err != nil {
		return bserr.New(bserr.ProtocolViolation, op, err)
	}
	frame, err := s.rec.Wrap(appMsg)
	if err != nil {
		return err
	}
	if err := s.fw.WriteFrame(frame); err != nil {
		return bserr.New(bserr.TransportFailure, op, err)
	}
	return nil
}

// sendSecureBestEffort is used on exit paths where the connection may
// already be unusable; a failure here must not mask the original reason
// the session is terminating.
func (s *Session) sendSecureBestEffort(cmd wire.Command, payload interface{}) {
	_ = s.sendSecure(cmd, payload)
}

func (s *Session) recvSecure() (wire.Command, []byte, error) {
	const op = "session.recvSecure"
	raw, err := s.fr.ReadFrame()
	if err != nil {
		return "", nil, bserr.New(bserr.TransportFailure, op, err)
	}
	appMsg, err := s.rec.Unwrap(raw)
	if err != nil {
		return "", nil, err
	}
	msg, rest, err := wire.DecodeApplicationMessage(appMsg)
	if err != nil {
		return "", nil, bserr.New(bserr.ProtocolViolation, op, err)
	}
	payload, err := io.ReadAll(rest)
	if err != nil {
		return "", nil, bserr.New(bserr.ProtocolViolation, op, err)
	}
	return msg.Command, payload, nil
}

func (s *Session) receivedMetadata(payloads []wire.PayloadDescriptor) *Metadata {
	m := &Metadata{
		SourceDevice: s.remote,
		Pin:          s.pin,
		TotalBytes:   s.transferMgr.TotalBytes(),
	}
	for _, p := range payloads {
		if p.Kind == wire.PayloadFile {
			m.Files = append(m.Files, p.Filename)
		}
	}
	return m
}

func (s *Session) progressMetadata() *Metadata {
	m := s.metadata()
	if s.lastDecoded != nil {
		m.TextPreview = s.lastDecoded.Text
	}
	return &m
}
