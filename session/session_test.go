// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package session

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beamshare/beamshare/framing"
	"github.com/beamshare/beamshare/wire"
)

// newPair wires two Sessions over a real loopback TCP connection rather
// than net.Pipe: the protocol's paired-key exchange has both sides write
// before either reads, which relies on a kernel send buffer the same way
// a real deployment does (mirrored in the teacher's own kx.go, whose
// genRandomAndSendMAC/recvRandomAndCheckMAC pair makes the same
// assumption); net.Pipe's unbuffered rendezvous semantics would deadlock
// on that step.
func newPair(t *testing.T, downloadsRoot string, offers []Offer) (*Session, *Session, chan Event, chan Event, chan Command, chan Command) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptCh <- c
	}()

	connA, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	var connB net.Conn
	select {
	case connB = <-acceptCh:
	case err := <-acceptErrCh:
		t.Fatal(err)
	}
	t.Cleanup(func() { connA.Close(); connB.Close() })

	outEvents := make(chan Event, 64)
	outCommands := make(chan Command, 4)
	inEvents := make(chan Event, 64)
	inCommands := make(chan Command, 4)

	outbound := New(Config{
		ID:                "out",
		Role:              Outbound,
		Conn:              connA,
		Local:             wire.EndpointInfo{Name: "Sender", DeviceType: wire.DevicePhone},
		Offers:            offers,
		Events:            outEvents,
		Commands:          outCommands,
		MaxHandshakeFrame: framing.DefaultHandshakeMax,
		MaxPayloadFrame:   framing.DefaultPayloadMax,
	})
	inbound := New(Config{
		ID:                "in",
		Role:              Inbound,
		Conn:              connB,
		Local:             wire.EndpointInfo{Name: "Receiver", DeviceType: wire.DeviceDesktop},
		DownloadsRoot:     downloadsRoot,
		Events:            inEvents,
		Commands:          inCommands,
		MaxHandshakeFrame: framing.DefaultHandshakeMax,
		MaxPayloadFrame:   framing.DefaultPayloadMax,
	})
	return outbound, inbound, outEvents, inEvents, outCommands, inCommands
}

func openBytes(b []byte) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
}

func TestHappyPathFileTransfer(t *testing.T) {
	downloads := t.TempDir()
	content := []byte("Hello, world!")
	offers := []Offer{{
		Descriptor: wire.PayloadDescriptor{ID: 1, Kind: wire.PayloadFile, Filename: "hello.txt", Size: int64(len(content))},
		Open:       openBytes(content),
	}}
	outbound, inbound, _, _, _, inCommands := newPair(t, downloads, offers)
	inCommands <- ConsentAccept

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- outbound.Run(ctx) }()
	go func() { errCh <- inbound.Run(ctx) }()

	if err := <-errCh; err != nil {
		t.Fatalf("first session exited with error: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("second session exited with error: %v", err)
	}

	if outbound.State() != StateFinished || inbound.State() != StateFinished {
		t.Fatalf("states = %v/%v, want Finished/Finished", outbound.State(), inbound.State())
	}

	got, err := os.ReadFile(filepath.Join(downloads, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("got %q, want %q", got, content)
	}
}

func TestConsentDeclineLeavesNoFile(t *testing.T) {
	downloads := t.TempDir()
	content := bytes.Repeat([]byte("x"), 1024)
	offers := []Offer{{
		Descriptor: wire.PayloadDescriptor{ID: 1, Kind: wire.PayloadFile, Filename: "nope.bin", Size: int64(len(content))},
		Open:       openBytes(content),
	}}
	outbound, inbound, _, _, _, inCommands := newPair(t, downloads, offers)
	inCommands <- ConsentDecline

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- outbound.Run(ctx) }()
	go func() { errCh <- inbound.Run(ctx) }()
	<-errCh
	<-errCh

	if outbound.State() != StateRejected {
		t.Fatalf("outbound state = %v, want Rejected", outbound.State())
	}
	if inbound.State() != StateRejected {
		t.Fatalf("inbound state = %v, want Rejected", inbound.State())
	}
	if _, err := os.Stat(filepath.Join(downloads, "nope.bin")); !os.IsNotExist(err) {
		t.Fatalf("expected no file, stat err = %v", err)
	}
}

func TestTextPayloadDeliversURL(t *testing.T) {
	downloads := t.TempDir()
	url := "https://example.org"
	offers := []Offer{{
		Descriptor: wire.PayloadDescriptor{ID: 9, Kind: wire.PayloadURL, Size: int64(len(url))},
		Open:       openBytes([]byte(url)),
	}}
	outbound, inbound, _, inEvents, _, inCommands := newPair(t, downloads, offers)
	inCommands <- ConsentAccept

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- outbound.Run(ctx) }()
	go func() { errCh <- inbound.Run(ctx) }()
	<-errCh
	<-errCh

	var preview string
	for {
		select {
		case ev := <-inEvents:
			if ev.Metadata != nil && ev.Metadata.TextPreview != "" {
				preview = ev.Metadata.TextPreview
			}
		default:
			goto done
		}
	}
done:
	if preview != url {
		t.Fatalf("got preview %q, want %q", preview, url)
	}
}

func TestMidTransferCancelLeavesNoFile(t *testing.T) {
	downloads := t.TempDir()
	content := bytes.Repeat([]byte("y"), 4<<20) // 4 MiB, several chunks
	offers := []Offer{{
		Descriptor: wire.PayloadDescriptor{ID: 1, Kind: wire.PayloadFile, Filename: "big.bin", Size: int64(len(content))},
		Open:       openBytes(content),
	}}
	outbound, inbound, _, inEvents, _, inCommands := newPair(t, downloads, offers)
	inCommands <- ConsentAccept

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- outbound.Run(ctx) }()
	go func() { errCh <- inbound.Run(ctx) }()

	go func() {
		for ev := range inEvents {
			if ev.Metadata != nil && ev.Metadata.AckBytes > 0 {
				inCommands <- TransferCancel
				return
			}
			if ev.Terminal != nil {
				return
			}
		}
	}()

	<-errCh
	<-errCh

	if inbound.State() != StateCancelled {
		t.Fatalf("inbound state = %v, want Cancelled", inbound.State())
	}
	matches, _ := filepath.Glob(filepath.Join(downloads, "*"))
	for _, m := range matches {
		if filepath.Base(m) == "big.bin" {
			t.Fatalf("expected no completed destination file, found %v", m)
		}
	}
}
