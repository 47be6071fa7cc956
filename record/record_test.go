// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package record

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/beamshare/beamshare/bserr"
	"github.com/beamshare/beamshare/seczero"
)

func testKeys() (send, recv Keys) {
	// Deterministic test-only keys; never used outside this file.
	mk := func(seed byte) *seczero.Bytes {
		b := make([]byte, 32)
		for i := range b {
			b[i] = seed + byte(i)
		}
		return seczero.New(b)
	}
	send = Keys{Enc: mk(1), Mac: mk(2)}
	recv = Keys{Enc: mk(3), Mac: mk(4)}
	return
}

// pairedLayers returns two Layers whose send/recv keys are cross-wired so
// a's Wrap output can be fed into b's Unwrap and vice versa.
func pairedLayers() (a, b *Layer) {
	k1, k2 := testKeys()
	a = New(k1, k2)
	b = New(k2, k1)
	return
}

func TestRoundTrip(t *testing.T) {
	a, b := pairedLayers()
	msg := []byte("the quick brown fox")
	frame, err := a.Wrap(msg)
	if err != nil {
		t.Fatalf("Wrap: %v", err)
	}
	got, err := b.Unwrap(frame)
	if err != nil {
		t.Fatalf("Unwrap: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("got %q want %q", got, msg)
	}
}

// TestSequenceMonotonic verifies property 1: sequence numbers are 1,2,3,...
// with no gaps, and a receiver that sees them out of order rejects.
func TestSequenceMonotonic(t *testing.T) {
	a, b := pairedLayers()
	var frames [][]byte
	for i := 0; i < 5; i++ {
		f, err := a.Wrap([]byte{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		frames = append(frames, f)
	}
	for i, f := range frames {
		if _, err := b.Unwrap(f); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if b.RecvSeq() != int32(i+1) {
			t.Fatalf("frame %d: recv seq = %d, want %d", i, b.RecvSeq(), i+1)
		}
	}
}

func TestSequenceReorderRejected(t *testing.T) {
	a, b := pairedLayers()
	f0, _ := a.Wrap([]byte("first"))
	f1, _ := a.Wrap([]byte("second"))

	if _, err := b.Unwrap(f1); bserr.KindOf(err) != bserr.ProtocolViolation {
		t.Fatalf("out-of-order frame: got %v, want ProtocolViolation", err)
	}
	// b's counter already advanced past the rejected frame's expectation;
	// feeding the true first frame now also mismatches, proving there is
	// no silent resync.
	if _, err := b.Unwrap(f0); bserr.KindOf(err) != bserr.ProtocolViolation {
		t.Fatalf("stale frame after reject: got %v, want ProtocolViolation", err)
	}
}

func TestSequenceDuplicateRejected(t *testing.T) {
	a, b := pairedLayers()
	f, _ := a.Wrap([]byte("once"))
	if _, err := b.Unwrap(f); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if _, err := b.Unwrap(f); bserr.KindOf(err) != bserr.ProtocolViolation {
		t.Fatalf("duplicate delivery: got %v, want ProtocolViolation", err)
	}
}

// TestBitFlipRejected verifies property 2: flipping any single bit of a
// post-handshake frame is rejected (Unwrap classifies it as CryptoFailure),
// never a successful decode.
func TestBitFlipRejected(t *testing.T) {
	a, b := pairedLayers()
	frame, err := a.Wrap([]byte("authenticate me"))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(frame); i++ {
		for bit := 0; bit < 8; bit++ {
			flipped := make([]byte, len(frame))
			copy(flipped, frame)
			flipped[i] ^= 1 << uint(bit)

			b2 := New(Keys{Enc: cloneKey(b.recvKeys.Enc), Mac: cloneKey(b.recvKeys.Mac)},
				Keys{Enc: cloneKey(b.sendKeys.Enc), Mac: cloneKey(b.sendKeys.Mac)})
			if _, err := b2.Unwrap(flipped); err == nil {
				t.Fatalf("byte %d bit %d: flipped frame decoded successfully", i, bit)
			} else if bserr.KindOf(err) != bserr.CryptoFailure && bserr.KindOf(err) != bserr.ProtocolViolation {
				t.Fatalf("byte %d bit %d: unexpected error kind: %v", i, bit, err)
			}
		}
	}
}

func cloneKey(z *seczero.Bytes) *seczero.Bytes {
	src := z.Slice()
	cp := make([]byte, len(src))
	copy(cp, src)
	return seczero.New(cp)
}

// TestRandomizedReorderingsAndDuplicates is the property test referenced by
// spec.md §8 property 1: over many random delivery permutations (including
// duplicates), the receiver accepts only the exact 1,2,3,... sequence.
func TestRandomizedReorderingsAndDuplicates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		a, b := pairedLayers()
		n := 6
		frames := make([][]byte, n)
		for i := 0; i < n; i++ {
			frames[i], _ = a.Wrap([]byte{byte(i)})
		}

		// A mismatch is fatal and the record layer never resyncs, so once
		// delivery deviates from the exact 1,2,3,... order every
		// subsequent frame on that (now-poisoned) layer must also be
		// rejected; only a delivery that happens to be the identity
		// permutation succeeds all the way through.
		order := rng.Perm(n)
		if trial%2 == 1 {
			// Odd trials draw with replacement, so a frame may be
			// delivered more than once.
			for i := range order {
				order[i] = rng.Intn(n)
			}
		}
		for i, idx := range order {
			_, err := b.Unwrap(frames[idx])
			wantAccept := idx == i
			if wantAccept && err != nil {
				t.Fatalf("trial %d: expected frame %d to be accepted, got %v", trial, idx, err)
			}
			if !wantAccept && err == nil {
				t.Fatalf("trial %d: out-of-order/duplicate frame %d was accepted", trial, idx)
			}
			if !wantAccept {
				break
			}
		}
	}
}
