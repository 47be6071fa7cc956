// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config loads process-wide settings from an INI file, following
// the shape of the teacher's zkclient/settings.go: a Settings struct with
// defaults, a Load that overrides them from an ini.File
// (github.com/vaughan0/go-ini), and a default root under the user's home
// directory (github.com/mitchellh/go-homedir). Unlike the teacher, the
// device name is never global state: New returns a value the caller
// threads explicitly into each session via Settings.EndpointInfo (spec.md
// Design Notes, "Global-state avoidance").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	homedir "github.com/mitchellh/go-homedir"
	ini "github.com/vaughan0/go-ini"

	"github.com/beamshare/beamshare/framing"
	"github.com/beamshare/beamshare/wire"
)

// Settings is the injected configuration for one node.
type Settings struct {
	Root string // beamshare root directory, defaults under $HOME

	DeviceName string
	DeviceType wire.DeviceType

	DownloadsRoot string // destination directory for received files

	MaxHandshakeFrame uint32 // framing.Reader/Writer limit pre-encryption
	MaxPayloadChunk   uint32 // framing.Reader/Writer limit post-encryption

	Debug bool
	Trace bool
	LogFile string
}

const (
	defaultDirName       = ".beamshare"
	defaultDownloadsName = "BeamshareDownloads"
)

// New returns defaults; Load then overrides from an ini file if present.
func New() (*Settings, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}
	root := filepath.Join(home, defaultDirName)
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "beamshare-device"
	}
	return &Settings{
		Root:              root,
		DeviceName:        hostname,
		DeviceType:        wire.DeviceDesktop,
		DownloadsRoot:     filepath.Join(home, defaultDownloadsName),
		MaxHandshakeFrame: framing.DefaultHandshakeMax,
		MaxPayloadChunk:   framing.DefaultPayloadMax,
		LogFile:           filepath.Join(root, "beamshare.log"),
	}, nil
}

// Load reads filename (INI format) and overrides the matching fields of s.
// A missing file is not an error; callers get the defaults from New.
// Reading is done under a lock shared with any concurrent writer, matching
// the single-writer/multi-reader contract of the device-name setting.
func (s *Settings) Load(filename string) error {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil
	}

	unlock, err := acquireLock(filename + ".lock")
	if err != nil {
		return fmt.Errorf("config: lock %v: %w", filename, err)
	}
	defer unlock()

	file, err := ini.LoadFile(filename)
	if err != nil {
		return fmt.Errorf("config: load %v: %w", filename, err)
	}

	if v, ok := file.Get("default", "root"); ok {
		s.Root = v
	}
	if v, ok := file.Get("default", "devicename"); ok {
		s.DeviceName = v
	}
	if v, ok := file.Get("default", "devicetype"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.DeviceType = wire.DeviceType(n)
		}
	}
	if v, ok := file.Get("default", "downloadsroot"); ok {
		s.DownloadsRoot = v
	}
	if v, ok := file.Get("default", "maxhandshakeframe"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			s.MaxHandshakeFrame = uint32(n)
		}
	}
	if v, ok := file.Get("default", "maxpayloadchunk"); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			s.MaxPayloadChunk = uint32(n)
		}
	}
	if v, ok := file.Get("log", "debug"); ok {
		s.Debug, _ = strconv.ParseBool(v)
	}
	if v, ok := file.Get("log", "trace"); ok {
		s.Trace, _ = strconv.ParseBool(v)
	}
	if v, ok := file.Get("log", "file"); ok {
		s.LogFile = v
	}

	return nil
}

// EndpointInfo is the EndpointInfo every session should present for this
// node, built from Settings.
func (s *Settings) EndpointInfo(id [4]byte) wire.EndpointInfo {
	return wire.EndpointInfo{Name: s.DeviceName, DeviceType: s.DeviceType, ID: id}
}
