// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package record implements the post-handshake record layer of spec.md
// §4.2: every framed message is a SecureMessage wrapping an encrypted,
// sequence-numbered DeviceToDeviceMessage, authenticated with HMAC-SHA256
// over the IV and ciphertext. The shape mirrors the teacher's
// session/kx.go readWithKey/writeWithKey pair, generalized from a single
// NaCl secretbox key to the four independent per-direction AES+HMAC keys
// spec.md requires.
package record

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/beamshare/beamshare/bserr"
	"github.com/beamshare/beamshare/seczero"
	"github.com/beamshare/beamshare/wire"
)

// Keys holds the encryption and HMAC key for one direction.
type Keys struct {
	Enc *seczero.Bytes // 32 bytes, AES-256
	Mac *seczero.Bytes // 32 bytes, HMAC-SHA256
}

// Zero scrubs both keys.
func (k Keys) Zero() { seczero.ZeroAll(k.Enc, k.Mac) }

// secureMessage is the on-the-wire envelope. IV and Ciphertext are
// variable length byte slices (XDR encodes length-prefixed opaque data
// natively); Tag is the fixed 32-byte HMAC.
type secureMessage struct {
	IV         []byte
	Ciphertext []byte
	Tag        [sha256.Size]byte
}

// Layer is one session's armed record layer: a send direction and a
// receive direction, each with its own keys and monotonic sequence
// counter. The zero value is not armed; construct with New once UKEY2
// completes.
type Layer struct {
	sendKeys Keys
	recvKeys Keys
	sendSeq  int32
	recvSeq  int32
}

// New arms a record layer with the given per-direction keys. Sequence
// counters both start at zero per spec.md §3.
func New(send, recv Keys) *Layer {
	return &Layer{sendKeys: send, recvKeys: recv}
}

// Zero scrubs both directions' key material. Safe to call on a nil Layer.
func (l *Layer) Zero() {
	if l == nil {
		return
	}
	l.sendKeys.Zero()
	l.recvKeys.Zero()
}

// SendSeq returns the last sequence number emitted (0 before the first
// Wrap call).
func (l *Layer) SendSeq() int32 { return l.sendSeq }

// RecvSeq returns the last sequence number accepted (0 before the first
// successful Unwrap call).
func (l *Layer) RecvSeq() int32 { return l.recvSeq }

// Wrap increments the send sequence counter, then encrypts and
// authenticates appMsg (an XDR-encoded wire.Message + payload) into a
// frame ready for framing.Writer.WriteFrame.
func (l *Layer) Wrap(appMsg []byte) ([]byte, error) {
	const op = "record.Wrap"
	l.sendSeq++

	d2d := wire.DeviceToDeviceMessage{SequenceNumber: l.sendSeq, Message: appMsg}
	body, err := wire.Marshal(d2d)
	if err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}

	iv := make([]byte, blockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}

	block, err := aes.NewCipher(l.sendKeys.Enc.Slice())
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}
	padded := pkcs7Pad(body)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	tag := computeTag(l.sendKeys.Mac.Slice(), iv, ciphertext)

	frame, err := wire.Marshal(secureMessage{IV: iv, Ciphertext: ciphertext, Tag: tag})
	if err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}
	return frame, nil
}

// Unwrap authenticates and decrypts a frame produced by the peer's Wrap,
// validates the post-increment sequence number, and returns the inner
// application message bytes.
func (l *Layer) Unwrap(frame []byte) ([]byte, error) {
	const op = "record.Unwrap"

	// A frame whose envelope does not even parse cannot be authenticated,
	// so it fails the same way a MAC mismatch does.
	var sm secureMessage
	if err := wire.Unmarshal(frame, &sm); err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}
	if len(sm.IV) != blockSize {
		return nil, bserr.New(bserr.CryptoFailure, op, errBadIV)
	}

	wantTag := computeTag(l.recvKeys.Mac.Slice(), sm.IV, sm.Ciphertext)
	if !hmac.Equal(wantTag[:], sm.Tag[:]) {
		return nil, bserr.New(bserr.CryptoFailure, op, errMACMismatch)
	}

	block, err := aes.NewCipher(l.recvKeys.Enc.Slice())
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}
	if len(sm.Ciphertext) == 0 || len(sm.Ciphertext)%blockSize != 0 {
		return nil, bserr.New(bserr.CryptoFailure, op, errPadding)
	}
	padded := make([]byte, len(sm.Ciphertext))
	cipher.NewCBCDecrypter(block, sm.IV).CryptBlocks(padded, sm.Ciphertext)
	body, err := pkcs7Unpad(padded)
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}

	var d2d wire.DeviceToDeviceMessage
	if err := wire.Unmarshal(body, &d2d); err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}

	l.recvSeq++
	if d2d.SequenceNumber != l.recvSeq {
		return nil, bserr.New(bserr.ProtocolViolation, op, errBadSequence)
	}

	return d2d.Message, nil
}

func computeTag(macKey, iv, ciphertext []byte) [sha256.Size]byte {
	m := hmac.New(sha256.New, macKey)
	m.Write(iv)
	m.Write(ciphertext)
	var tag [sha256.Size]byte
	copy(tag[:], m.Sum(nil))
	return tag
}
