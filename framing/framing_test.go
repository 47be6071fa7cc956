// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package framing

import (
	"bytes"
	"io"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	msgs := [][]byte{[]byte("hello"), {}, bytes.Repeat([]byte{0xAB}, 4096)}
	for _, m := range msgs {
		if err := w.WriteFrame(m); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}

	r := NewReader(&buf, 0)
	for i, want := range msgs {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: ReadFrame: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: got %v want %v", i, got, want)
		}
	}
	if _, err := r.ReadFrame(); err != ErrPeerClosed {
		t.Fatalf("expected ErrPeerClosed at boundary, got %v", err)
	}
}

func TestTruncatedMidFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)
	if err := w.WriteFrame([]byte("hello world")); err != nil {
		t.Fatal(err)
	}
	full := buf.Bytes()
	truncated := full[:len(full)-3]

	r := NewReader(bytes.NewReader(truncated), 0)
	_, err := r.ReadFrame()
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestTruncatedMidLength(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{0x00, 0x01}), 0)
	_, err := r.ReadFrame()
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

// TestOversizeRejectedWithoutAllocating verifies property 8: a frame whose
// declared length exceeds the maximum is rejected before any attempt to
// read or allocate that many bytes. We prove the "no allocation" half by
// using a reader that panics if asked to read more than the length prefix.
type explodingReader struct {
	prefix []byte
	read   int
}

func (e *explodingReader) Read(p []byte) (int, error) {
	if e.read >= len(e.prefix) {
		panic("ReadFrame attempted to read frame body past the oversize check")
	}
	n := copy(p, e.prefix[e.read:])
	e.read += n
	return n, nil
}

func TestOversizeRejectedWithoutAllocating(t *testing.T) {
	r := NewReader(&explodingReader{prefix: []byte{0xFF, 0xFF, 0xFF, 0xFF}}, 1024)
	_, err := r.ReadFrame()
	if err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestWriterRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 4)
	if err := w.WriteFrame([]byte("too long")); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
