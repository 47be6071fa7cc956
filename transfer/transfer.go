// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package transfer implements the chunk-assembly half of spec.md §4.5: it
// turns a stream of wire.PayloadTransfer frames into either a file on disk
// or an in-memory buffer, tracks per-payload and session-wide byte counts,
// and throttles progress reporting. It knows nothing about the wire
// transport or the handshake; the session driver feeds it frames and reads
// back Progress/Decoded snapshots.
//
// File-landing follows the teacher's zkclient/chunk.go doHandleChunk: an
// append-only destination file, and on completion a collision-avoidance
// rename loop that adds a numeric suffix before the filename's extension
// until a free path is found.
package transfer

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcopeereboom/goutil"
	"golang.org/x/time/rate"

	"github.com/beamshare/beamshare/bserr"
	"github.com/beamshare/beamshare/wire"
)

// TextTag identifies the decoded shape of an in-memory payload once its
// final chunk arrives, matching spec.md §3's text_payload tagged union.
type TextTag struct {
	Kind         wire.PayloadKind // PayloadText, PayloadURL, or PayloadWifi
	WifiSSID     string
	WifiSecurity wire.WifiSecurity
}

// Decoded is one in-memory payload once fully assembled.
type Decoded struct {
	PayloadID int64
	Tag       TextTag
	Text      string // UTF-8 contents for Text/URL; raw password for Wifi
}

// Progress is one throttled progress sample for a single payload.
type Progress struct {
	PayloadID  int64
	AckBytes   int64
	TotalBytes int64
}

type fileState struct {
	desc    wire.PayloadDescriptor
	f       *os.File
	tmpPath string
	written int64
}

type bufferState struct {
	tag TextTag
	buf []byte
}

// Manager assembles the payloads described by one Introduction frame. It
// is not safe for concurrent use; the owning session driver is its single
// caller, per spec.md §5.
type Manager struct {
	downloadsRoot string

	descriptors map[int64]wire.PayloadDescriptor
	files       map[int64]*fileState
	buffers     map[int64]*bufferState
	limiters    map[int64]*rate.Limiter
	seen        map[int64]int64 // bytes already accounted toward ackBytes

	totalBytes int64
	ackBytes   int64
}

// NewManager returns an empty Manager rooted at downloadsRoot.
func NewManager(downloadsRoot string) *Manager {
	return &Manager{
		downloadsRoot: downloadsRoot,
		descriptors:   make(map[int64]wire.PayloadDescriptor),
		files:         make(map[int64]*fileState),
		buffers:       make(map[int64]*bufferState),
		limiters:      make(map[int64]*rate.Limiter),
		seen:          make(map[int64]int64),
	}
}

// Introduce registers the payloads declared by an Introduction frame. A
// second call is a protocol violation the caller must reject before
// reaching here (spec.md §4.4: duplicate Introduction is fatal).
func (m *Manager) Introduce(payloads []wire.PayloadDescriptor) {
	for _, d := range payloads {
		m.descriptors[d.ID] = d
		m.totalBytes += d.Size
		m.limiters[d.ID] = rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
	}
}

// Descriptor looks up a previously-introduced payload.
func (m *Manager) Descriptor(id int64) (wire.PayloadDescriptor, bool) {
	d, ok := m.descriptors[id]
	return d, ok
}

// TotalBytes is the sum of every introduced payload's declared size.
func (m *Manager) TotalBytes() int64 { return m.totalBytes }

// AckBytes is the sum of bytes accepted across every payload so far.
func (m *Manager) AckBytes() int64 { return m.ackBytes }

// WriteChunk applies one PayloadTransfer chunk. It returns a non-nil
// *Progress when the throttle (spec.md §4.5: at most every 100ms or 1MiB,
// always on the final chunk) says this chunk is worth reporting, a
// non-nil *Decoded when an in-memory payload just completed, and
// done=true when the chunk was the payload's final one.
func (m *Manager) WriteChunk(pt wire.PayloadTransfer) (*Progress, *Decoded, bool, error) {
	const op = "transfer.WriteChunk"

	desc, ok := m.descriptors[pt.PayloadID]
	if !ok {
		return nil, nil, false, bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("unknown payload %d", pt.PayloadID))
	}

	var written int64
	if desc.Kind == wire.PayloadFile {
		fs, err := m.fileFor(desc)
		if err != nil {
			return nil, nil, false, bserr.New(bserr.IoFailure, op, err)
		}
		if pt.Offset != fs.written {
			return nil, nil, false, bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("payload %d offset %d, want %d", pt.PayloadID, pt.Offset, fs.written))
		}
		if fs.written+int64(len(pt.Bytes)) > desc.Size {
			return nil, nil, false, bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("payload %d overflow", pt.PayloadID))
		}
		if _, err := fs.f.Write(pt.Bytes); err != nil {
			return nil, nil, false, bserr.New(bserr.IoFailure, op, err)
		}
		fs.written += int64(len(pt.Bytes))
		written = fs.written
		if pt.IsLastChunk {
			if fs.written != desc.Size {
				return nil, nil, false, bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("payload %d final size mismatch", pt.PayloadID))
			}
			if err := fs.f.Sync(); err != nil {
				return nil, nil, false, bserr.New(bserr.IoFailure, op, err)
			}
			if err := fs.f.Close(); err != nil {
				return nil, nil, false, bserr.New(bserr.IoFailure, op, err)
			}
			if len(desc.Digest) > 0 {
				sum, err := goutil.FileSHA256(fs.tmpPath)
				if err != nil {
					return nil, nil, false, bserr.New(bserr.IoFailure, op, err)
				}
				if !bytes.Equal(sum[:], desc.Digest) {
					os.Remove(fs.tmpPath)
					return nil, nil, false, bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("payload %d failed digest check", pt.PayloadID))
				}
			}
			finalPath, err := landingPath(m.downloadsRoot, desc.Filename)
			if err != nil {
				return nil, nil, false, bserr.New(bserr.IoFailure, op, err)
			}
			if err := os.Rename(fs.tmpPath, finalPath); err != nil {
				return nil, nil, false, bserr.New(bserr.IoFailure, op, err)
			}
		}
	} else {
		bs := m.bufferFor(desc)
		if pt.Offset != int64(len(bs.buf)) {
			return nil, nil, false, bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("payload %d offset %d, want %d", pt.PayloadID, pt.Offset, len(bs.buf)))
		}
		if int64(len(bs.buf)+len(pt.Bytes)) > desc.Size {
			return nil, nil, false, bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("payload %d overflow", pt.PayloadID))
		}
		bs.buf = append(bs.buf, pt.Bytes...)
		written = int64(len(bs.buf))
		if pt.IsLastChunk && written != desc.Size {
			return nil, nil, false, bserr.New(bserr.ProtocolViolation, op, fmt.Errorf("payload %d final size mismatch", pt.PayloadID))
		}
	}

	delta := written - m.seen[pt.PayloadID]
	m.seen[pt.PayloadID] = written
	m.ackBytes += delta

	// The byte half of the throttle fires whenever this chunk carries the
	// payload's cumulative count across a 1 MiB boundary.
	crossedMiB := (written-delta)>>20 != written>>20
	var progress *Progress
	if pt.IsLastChunk || m.limiters[pt.PayloadID].Allow() || crossedMiB {
		progress = &Progress{PayloadID: pt.PayloadID, AckBytes: written, TotalBytes: desc.Size}
	}

	var decoded *Decoded
	if pt.IsLastChunk && desc.Kind != wire.PayloadFile {
		decoded = m.decode(desc)
	}

	return progress, decoded, pt.IsLastChunk, nil
}

// Cancel closes every open file handle; used on cancellation so the
// session can then rely on Cleanup to remove the partial files.
func (m *Manager) Cancel() {
	for _, fs := range m.files {
		fs.f.Close()
	}
}

// Cleanup implements spec.md §3's partial-file invariant: deletes every
// file payload that was started but never completed.
func (m *Manager) Cleanup() {
	for _, fs := range m.files {
		if fs.written > 0 && fs.written < fs.desc.Size {
			os.Remove(fs.tmpPath)
		}
	}
}

func (m *Manager) fileFor(desc wire.PayloadDescriptor) (*fileState, error) {
	if fs, ok := m.files[desc.ID]; ok {
		return fs, nil
	}
	if err := os.MkdirAll(m.downloadsRoot, 0700); err != nil {
		return nil, err
	}
	tmpPath := filepath.Join(m.downloadsRoot, fmt.Sprintf(".beamshare-recv-%d", desc.ID))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, err
	}
	fs := &fileState{desc: desc, f: f, tmpPath: tmpPath}
	m.files[desc.ID] = fs
	return fs, nil
}

func (m *Manager) bufferFor(desc wire.PayloadDescriptor) *bufferState {
	if bs, ok := m.buffers[desc.ID]; ok {
		return bs
	}
	bs := &bufferState{tag: TextTag{Kind: desc.Kind, WifiSSID: desc.WifiSSID, WifiSecurity: desc.WifiSecurity}}
	m.buffers[desc.ID] = bs
	return bs
}

func (m *Manager) decode(desc wire.PayloadDescriptor) *Decoded {
	bs := m.buffers[desc.ID]
	return &Decoded{PayloadID: desc.ID, Tag: bs.tag, Text: string(bs.buf)}
}

// landingPath picks a free destination under root: filename itself, or
// else filename with a numeric suffix before its extension
// ("hello-1.txt", "hello-2.txt", ...).
func landingPath(root, filename string) (string, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return "", err
	}
	ext := filepath.Ext(filename)
	base := filename[:len(filename)-len(ext)]
	name := filename
	for i := 1; ; i++ {
		full := filepath.Join(root, name)
		if _, err := os.Stat(full); os.IsNotExist(err) {
			return full, nil
		}
		name = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
}
