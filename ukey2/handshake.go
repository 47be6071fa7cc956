// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ukey2

import (
	"crypto/ecdh"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"github.com/beamshare/beamshare/bserr"
	"github.com/beamshare/beamshare/framing"
	"github.com/beamshare/beamshare/record"
	"github.com/beamshare/beamshare/seczero"
	"github.com/beamshare/beamshare/wire"
)

// SupportedCiphers is the single cipher suite this implementation offers;
// spec.md's Non-goals exclude cross-version negotiation.
var SupportedCiphers = []string{"AES_256_CBC-HMAC_SHA256"}

var (
	ErrCommitmentMismatch = errors.New("ukey2: ClientFinished does not match ClientInit commitment")
	ErrUnsupportedCipher  = errors.New("ukey2: no supported cipher in ServerInit")
	ErrInvalidPublicKey   = errors.New("ukey2: invalid EC point")
)

// Result is the outcome of a completed handshake: the keys to arm a
// record.Layer with, the transcript-derived pin for out-of-band
// verification, and the raw handshake-message buffers spec.md §3 lists
// alongside the derived keys as zeroized-on-drop state
// (client_init_msg_data, server_init_data, ukey_client_finish_msg_data).
// The caller owns scrubbing these via Zero once the handshake result is no
// longer needed.
type Result struct {
	Send record.Keys
	Recv record.Keys
	Pin  string

	Transcript     *seczero.Bytes
	ClientInit     *seczero.Bytes
	ServerInit     *seczero.Bytes
	ClientFinished *seczero.Bytes
}

// Zero scrubs the raw handshake-message and transcript buffers. The
// record-layer keys are scrubbed separately by record.Layer.Zero, which
// holds the same Send/Recv key material.
func (r *Result) Zero() {
	if r == nil {
		return
	}
	seczero.ZeroAll(r.Transcript, r.ClientInit, r.ServerInit, r.ClientFinished)
}

// RunInitiator drives the client side of the handshake (spec.md §4.3,
// steps 1 and 3) over fr/fw.
func RunInitiator(fr *framing.Reader, fw *framing.Writer) (*Result, error) {
	const op = "ukey2.RunInitiator"

	priv, err := generateKeyPair()
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}

	clientFinishedBytes, err := wire.Marshal(wire.Ukey2ClientFinished{
		PublicKey: priv.PublicKey().Bytes(),
	})
	if err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}
	commitment := sha256.Sum256(clientFinishedBytes)

	clientInitBytes, err := wire.Marshal(wire.Ukey2ClientInit{Commitment: commitment})
	if err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}
	if err := fw.WriteFrame(clientInitBytes); err != nil {
		return nil, bserr.New(bserr.TransportFailure, op, err)
	}

	serverInitBytes, err := fr.ReadFrame()
	if err != nil {
		return nil, bserr.New(bserr.TransportFailure, op, err)
	}
	var serverInit wire.Ukey2ServerInit
	if err := wire.Unmarshal(serverInitBytes, &serverInit); err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}
	if !supportsCipher(serverInit.SupportedCiphers) {
		return nil, bserr.New(bserr.ProtocolViolation, op, ErrUnsupportedCipher)
	}
	peerPub, err := curve().NewPublicKey(serverInit.PublicKey)
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, ErrInvalidPublicKey)
	}

	if err := fw.WriteFrame(clientFinishedBytes); err != nil {
		return nil, bserr.New(bserr.TransportFailure, op, err)
	}

	return finish(op, priv, peerPub, clientInitBytes, serverInitBytes, clientFinishedBytes, false)
}

// RunResponder drives the server side of the handshake (spec.md §4.3,
// step 2, plus commitment verification on ClientFinished).
func RunResponder(fr *framing.Reader, fw *framing.Writer) (*Result, error) {
	const op = "ukey2.RunResponder"

	clientInitBytes, err := fr.ReadFrame()
	if err != nil {
		return nil, bserr.New(bserr.TransportFailure, op, err)
	}
	var clientInit wire.Ukey2ClientInit
	if err := wire.Unmarshal(clientInitBytes, &clientInit); err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}

	priv, err := generateKeyPair()
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}
	serverInitBytes, err := wire.Marshal(wire.Ukey2ServerInit{
		PublicKey:        priv.PublicKey().Bytes(),
		SupportedCiphers: SupportedCiphers,
	})
	if err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}
	if err := fw.WriteFrame(serverInitBytes); err != nil {
		return nil, bserr.New(bserr.TransportFailure, op, err)
	}

	clientFinishedBytes, err := fr.ReadFrame()
	if err != nil {
		return nil, bserr.New(bserr.TransportFailure, op, err)
	}
	gotCommitment := sha256.Sum256(clientFinishedBytes)
	if subtle.ConstantTimeCompare(gotCommitment[:], clientInit.Commitment[:]) != 1 {
		return nil, bserr.New(bserr.ProtocolViolation, op, ErrCommitmentMismatch)
	}
	var clientFinished wire.Ukey2ClientFinished
	if err := wire.Unmarshal(clientFinishedBytes, &clientFinished); err != nil {
		return nil, bserr.New(bserr.ProtocolViolation, op, err)
	}
	peerPub, err := curve().NewPublicKey(clientFinished.PublicKey)
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, ErrInvalidPublicKey)
	}

	return finish(op, priv, peerPub, clientInitBytes, serverInitBytes, clientFinishedBytes, true)
}

// finish derives the transcript, shared secret, record keys, and pin
// common to both roles. isResponder picks which derived pair sends and
// which receives (spec.md §4.2: initiator sends with "client", receives
// with "server"; responder is the inverse).
//
// The ephemeral EC private keys generated for each handshake are not
// explicitly scrubbed here: crypto/ecdh.PrivateKey holds its scalar in an
// unexported field with no exported zeroing method, so nothing short of
// reimplementing P-256 key storage outside the standard library could
// scrub it directly. priv is not retained past this call, so the garbage
// collector reclaims it as soon as the handshake completes.
func finish(op string, priv *ecdh.PrivateKey, peerPub *ecdh.PublicKey,
	clientInitBytes, serverInitBytes, clientFinishedBytes []byte, isResponder bool) (*Result, error) {

	secret, err := sharedSecret(priv, peerPub)
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}

	transcript := make([]byte, 0, len(clientInitBytes)+len(serverInitBytes))
	transcript = append(transcript, clientInitBytes...)
	transcript = append(transcript, serverInitBytes...)

	keys, err := deriveRecordKeys(secret, transcript)
	if err != nil {
		return nil, bserr.New(bserr.CryptoFailure, op, err)
	}

	r := &Result{
		Pin:            derivePin(transcript),
		Transcript:     seczero.New(transcript),
		ClientInit:     seczero.New(clientInitBytes),
		ServerInit:     seczero.New(serverInitBytes),
		ClientFinished: seczero.New(clientFinishedBytes),
	}
	if isResponder {
		r.Send = keys.serverKeys()
		r.Recv = keys.clientKeys()
	} else {
		r.Send = keys.clientKeys()
		r.Recv = keys.serverKeys()
	}
	return r, nil
}

func supportsCipher(ciphers []string) bool {
	for _, c := range ciphers {
		for _, want := range SupportedCiphers {
			if c == want {
				return true
			}
		}
	}
	return false
}
