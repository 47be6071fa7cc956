// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package identity encodes and decodes the mDNS TXT record the discovery
// layer publishes and consumes (spec.md §6): a base64url blob under key
// "n" whose first byte is the device-type enum and the rest is the UTF-8
// device name, following original_source's DeviceType-prefixed endpoint
// encoding.
package identity

import (
	"encoding/base64"
	"errors"

	"github.com/beamshare/beamshare/wire"
)

// ServiceType is the multicast-DNS service type spec.md §6 mandates.
const ServiceType = "_FC9F5ED42C8A._tcp.local."

// TXTKey is the TXT record key carrying the encoded endpoint info.
const TXTKey = "n"

var ErrTooShort = errors.New("identity: TXT value shorter than a device-type byte")

// EncodeTXT builds the base64url value for TXT key "n".
func EncodeTXT(info wire.EndpointInfo) string {
	raw := make([]byte, 1+len(info.Name))
	raw[0] = byte(info.DeviceType)
	copy(raw[1:], info.Name)
	return base64.URLEncoding.EncodeToString(raw)
}

// DecodeTXT parses a TXT key "n" value back into a device type and name.
// The endpoint id is carried out of band (mDNS instance name), not in this
// blob, so the returned EndpointInfo.ID is left zero for the caller to
// fill in.
func DecodeTXT(value string) (wire.EndpointInfo, error) {
	raw, err := base64.URLEncoding.DecodeString(value)
	if err != nil {
		return wire.EndpointInfo{}, err
	}
	if len(raw) < 1 {
		return wire.EndpointInfo{}, ErrTooShort
	}
	return wire.EndpointInfo{
		DeviceType: wire.DeviceType(raw[0]),
		Name:       string(raw[1:]),
	}, nil
}
