// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire holds the typed handshake and application records the
// session core drives through. These correspond to spec.md's "schema
// compiled message definitions": in the real Quick Share / Nearby Share
// ecosystem they come from a generated protobuf schema external to this
// core; here they are plain Go structs, XDR-encoded the way the teacher
// codebase encodes its own RPC records (github.com/davecgh/go-xdr).
package wire

import (
	"bytes"

	xdr "github.com/davecgh/go-xdr/xdr2"
)

// Command discriminates the frames exchanged post-handshake, matching
// the teacher's rpc.Message discriminator pattern.
type Command string

const (
	CmdConnectionRequest  Command = "connectionrequest"
	CmdUkey2ClientInit    Command = "ukey2clientinit"
	CmdUkey2ServerInit    Command = "ukey2serverinit"
	CmdUkey2ClientFinish  Command = "ukey2clientfinish"
	CmdConnectionResponse Command = "connectionresponse"
	CmdPairedKeyEncryption Command = "pairedkeyencryption"
	CmdPairedKeyResult    Command = "pairedkeyresult"
	CmdIntroduction       Command = "introduction"
	CmdTransferAccept     Command = "transferaccept"
	CmdPayloadTransfer    Command = "payloadtransfer"
	CmdDisconnection      Command = "disconnection"
)

// Message is the generic envelope carried by every post-handshake,
// post-encryption frame: a discriminator plus whatever Command-specific
// payload follows it in the same XDR stream.
type Message struct {
	Command Command
}

// DeviceType enumerates the four kinds of device the wire protocol knows
// about; the fifth, Unknown, covers anything else.
type DeviceType byte

const (
	DeviceUnknown DeviceType = iota
	DevicePhone
	DeviceTablet
	DeviceLaptop
	DeviceDesktop
)

// EndpointInfo identifies a peer at the discovery layer and is carried
// verbatim into ConnectionRequest.
type EndpointInfo struct {
	Name       string
	DeviceType DeviceType
	ID         [4]byte
}

// ConnectionRequest is the first frame on a connection, sent in the clear
// before the UKEY2 handshake: the sender's EndpointInfo.
type ConnectionRequest struct {
	Info EndpointInfo
}

// Ukey2ClientInit commits to ClientFinished without revealing it.
type Ukey2ClientInit struct {
	Commitment [32]byte // SHA-256(ClientFinished bytes)
}

// Ukey2ServerInit reveals the responder's ephemeral public key.
type Ukey2ServerInit struct {
	PublicKey      []byte // uncompressed P-256 point
	SupportedCiphers []string
}

// Ukey2ClientFinished opens the commitment from Ukey2ClientInit.
type Ukey2ClientFinished struct {
	PublicKey []byte // uncompressed P-256 point
}

// ConnectionResponse confirms acceptance of the UKEY2 session.
type ConnectionResponse struct {
	Accepted bool
}

// PairedKeyStatus is always Unable in this implementation: spec.md's open
// question (b) treats persistent pairing as a deployment decision left out
// of the core.
type PairedKeyStatus string

const (
	PairedKeyUnable PairedKeyStatus = "unable"
)

// PairedKeyEncryption exchanges previously-paired credentials. Carries no
// payload in this implementation since neither side ever has one.
type PairedKeyEncryption struct{}

// PairedKeyResult answers a PairedKeyEncryption.
type PairedKeyResult struct {
	Status PairedKeyStatus
}

// PayloadKind is a closed sum of the four payload varieties; expressed as a
// tagged byte, never as an interface (spec.md Design Notes,
// "Dynamic-dispatch avoidance").
type PayloadKind byte

const (
	PayloadFile PayloadKind = iota
	PayloadText
	PayloadURL
	PayloadWifi
)

// WifiSecurity enumerates the security types a Wi-Fi credential payload may
// carry.
type WifiSecurity string

const (
	WifiOpen WifiSecurity = "open"
	WifiWPAPSK WifiSecurity = "wpa_psk"
	WifiWEP WifiSecurity = "wep"
)

// PayloadDescriptor is one entry of an Introduction frame.
type PayloadDescriptor struct {
	ID          int64
	Kind        PayloadKind
	Filename    string // set when Kind == PayloadFile
	Size        int64
	Mime        string
	Digest      []byte // optional SHA-256 of the complete payload; may be empty
	WifiSSID    string       // set when Kind == PayloadWifi
	WifiSecurity WifiSecurity // set when Kind == PayloadWifi
}

// Introduction lists the payloads the outbound side intends to send.
type Introduction struct {
	Payloads []PayloadDescriptor
}

// TransferAccept is the inbound side's explicit go-ahead once the user
// has granted consent; it is what unblocks the outbound side's
// SendingFiles transition. Carries no payload.
type TransferAccept struct{}

// PayloadTransfer carries one chunk of one payload, or a cancellation.
type PayloadTransfer struct {
	PayloadID   int64
	Offset      int64
	Bytes       []byte
	IsLastChunk bool
	Cancel      bool
}

// Disconnection is a graceful termination notice.
type Disconnection struct {
	Reason string
}

// DeviceToDeviceMessage is what a SecureMessage body decrypts to: a
// sequence number (checked by the record layer) wrapping the next typed
// application message, itself a Message header followed by its
// Command-specific payload, all XDR-encoded back to back.
type DeviceToDeviceMessage struct {
	SequenceNumber int32
	Message        []byte
}

// Marshal XDR-encodes v and returns the resulting bytes.
func Marshal(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	_, err := xdr.Marshal(&b, v)
	if err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Unmarshal XDR-decodes data into v.
func Unmarshal(data []byte, v interface{}) error {
	_, err := xdr.Unmarshal(bytes.NewReader(data), v)
	return err
}

// EncodeApplicationMessage XDR-encodes a Message header followed by its
// payload into one byte slice, ready to become a DeviceToDeviceMessage.Message.
func EncodeApplicationMessage(cmd Command, payload interface{}) ([]byte, error) {
	var b bytes.Buffer
	if _, err := xdr.Marshal(&b, Message{Command: cmd}); err != nil {
		return nil, err
	}
	if payload != nil {
		if _, err := xdr.Marshal(&b, payload); err != nil {
			return nil, err
		}
	}
	return b.Bytes(), nil
}

// DecodeApplicationMessage splits data into its Message header and the
// remaining payload bytes, which the caller then XDR-decodes according to
// Command.
func DecodeApplicationMessage(data []byte) (Message, *bytes.Reader, error) {
	r := bytes.NewReader(data)
	var m Message
	_, err := xdr.Unmarshal(r, &m)
	return m, r, err
}
