// Copyright (c) 2026 The beamshare Authors.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"os"
	"time"
)

var ErrLockTimeout = errors.New("config: timed out waiting for lock")

// acquireLock is a minimal O_EXCL advisory lock: the config file's single-
// writer/multi-reader contract (spec.md Design Notes) only needs mutual
// exclusion between this process's own config rewrites, not a
// cross-process-safe primitive, so a stdlib create-exclusive loop is
// enough. Returns a release function.
func acquireLock(path string) (func(), error) {
	deadline := time.Now().Add(5 * time.Second)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		time.Sleep(10 * time.Millisecond)
	}
}
