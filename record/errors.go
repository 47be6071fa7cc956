// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package record

import "errors"

var (
	errBadIV       = errors.New("record: malformed IV")
	errMACMismatch = errors.New("record: HMAC mismatch")
	errBadSequence = errors.New("record: unexpected sequence number")
)
