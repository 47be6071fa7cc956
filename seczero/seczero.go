// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package seczero gives key material and handshake transcripts a single,
// deferrable scrub call instead of scattering manual loops through the
// session teardown path (the RAII "scoped cleanup" contract a session must
// honor on every exit, including panics).
package seczero

// Bytes wraps a byte slice that holds secret material.
type Bytes struct {
	b []byte
}

// New takes ownership of b; callers must not retain other references to it.
func New(b []byte) *Bytes {
	return &Bytes{b: b}
}

// Slice returns the wrapped bytes. Returns nil after Zero.
func (z *Bytes) Slice() []byte {
	if z == nil {
		return nil
	}
	return z.b
}

// Zero overwrites the wrapped bytes with zeros. Safe to call on a nil
// receiver or to call more than once.
func (z *Bytes) Zero() {
	if z == nil {
		return
	}
	for i := range z.b {
		z.b[i] = 0
	}
	z.b = nil
}

// ZeroAll zeroes every non-nil *Bytes in order. Intended for a single
// deferred cleanup call: defer seczero.ZeroAll(s.encryptKey, s.sendHMACKey, ...).
func ZeroAll(bs ...*Bytes) {
	for _, b := range bs {
		b.Zero()
	}
}
