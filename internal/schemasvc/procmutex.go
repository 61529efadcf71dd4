// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package schemasvc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// MutexScope selects how a cross-process mutex is shared. Go has no
// portable named-mutex primitive, so Global and Local both fall back to
// an advisory lock file; Unnamed falls back to an in-process mutex and
// forfeits cross-process coordination entirely.
type MutexScope int

const (
	// MutexGlobal shares the lock across all users on the machine, under
	// the configured isolation directory.
	MutexGlobal MutexScope = iota
	// MutexLocal scopes the lock to the current user/session, under
	// os.TempDir().
	MutexLocal
	// MutexUnnamed never leaves the process; L2 publication is still
	// correct within one process, but sibling processes racing a publish
	// to the same isolation key are not coordinated.
	MutexUnnamed
)

// procMutex is a cross-process advisory lock keyed by name, built from
// an atomically-created lock file. The holder's PID is written into the
// file but never read back; a lock file older than staleLockAge is
// treated as abandoned and removed. It is not reentrant.
type procMutex struct {
	scope MutexScope
	path  string
	local sync.Mutex
}

// newProcMutex builds the mutex for the given scope and isolation key.
// dir is the configured isolation directory (used only for
// MutexGlobal); MutexLocal always resolves under os.TempDir().
func newProcMutex(scope MutexScope, dir, isolationKey string) *procMutex {
	pm := &procMutex{scope: scope}
	switch scope {
	case MutexGlobal:
		pm.path = filepath.Join(dir, fmt.Sprintf("sqlxcore-%s.lock", isolationKey))
	case MutexLocal:
		pm.path = filepath.Join(os.TempDir(), fmt.Sprintf("sqlxcore-%s.lock", isolationKey))
	default:
		log.WithField("isolationKey", isolationKey).
			Warn("cross-process schema cache coordination disabled: mutex scope is unnamed, falling back to an in-process lock")
	}
	return pm
}

const (
	lockRetryInterval = 20 * time.Millisecond
	staleLockAge      = 30 * time.Second
)

// Lock blocks until the mutex is acquired or deadline elapses.
func (m *procMutex) Lock(deadline time.Duration) error {
	if m.scope == MutexUnnamed {
		m.local.Lock()
		return nil
	}

	giveUpAt := time.Now().Add(deadline)
	for {
		f, err := os.OpenFile(m.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return errors.Wrapf(err, "creating lock file %q", m.path)
		}
		if m.breakStaleLock() {
			continue
		}
		if time.Now().After(giveUpAt) {
			return errors.Errorf("timed out acquiring cross-process lock %q", m.path)
		}
		time.Sleep(lockRetryInterval)
	}
}

// Unlock releases the mutex.
func (m *procMutex) Unlock() {
	if m.scope == MutexUnnamed {
		m.local.Unlock()
		return
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", m.path).Warn("failed to release cross-process lock file")
	}
}

// breakStaleLock removes a lock file whose mtime is older than
// staleLockAge, on the assumption that its owning process died without
// cleaning up. It returns true if it removed a stale lock, meaning the
// caller should immediately retry acquisition.
func (m *procMutex) breakStaleLock() bool {
	info, err := os.Stat(m.path)
	if err != nil {
		return false
	}
	if time.Since(info.ModTime()) < staleLockAge {
		return false
	}
	if err := os.Remove(m.path); err != nil {
		return false
	}
	log.WithField("path", m.path).Warn("broke stale cross-process lock file")
	return true
}
