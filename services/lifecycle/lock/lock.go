// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lock provides the advisory lock serializing soul document writes.
//
// Both logical threads of control (the agent loop and the heartbeat
// daemon) write the identity document, so every read-modify-write cycle
// must hold the advisory lock keyed by the document path. Locking is
// in-process (mutex per path) plus cross-process (flock on a sidecar
// .lock file), matching the single-writer policy for the soul file.
//
// # Thread Safety
//
// Guard is safe for concurrent use from multiple goroutines.
package lock

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// ErrFileLocked is returned when another process holds the lock.
var ErrFileLocked = errors.New("file is locked by another process")

// FileLocker abstracts platform-specific file locking.
//
// Unix uses flock(2); Windows uses LockFileEx.
type FileLocker interface {
	// Lock acquires an exclusive lock on the file. Non-blocking:
	// returns ErrFileLocked immediately if already held elsewhere.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call even if not locked.
	Unlock(f *os.File) error
}

// Guard serializes access to files by path.
type Guard struct {
	locker FileLocker
	mu     sync.Mutex
	paths  map[string]*pathLock
}

type pathLock struct {
	mu   sync.Mutex
	file *os.File
}

// NewGuard creates a Guard using the platform's file locker.
func NewGuard() *Guard {
	return &Guard{
		locker: newFileLocker(),
		paths:  make(map[string]*pathLock),
	}
}

// Acquire takes the advisory lock for path.
//
// Description:
//
//	Serializes in-process callers with a per-path mutex, then takes an
//	exclusive flock on "<path>.lock" to fence other processes. The
//	returned release function MUST be called on every exit path:
//
//	    release, err := guard.Acquire(soulPath)
//	    if err != nil { return err }
//	    defer release()
//
// Inputs:
//
//	path - The file whose access is being serialized.
//
// Outputs:
//
//	func() - Release function. Never nil on success.
//	error  - ErrFileLocked if another process holds the lock, or an
//	         I/O error opening the sidecar.
func (g *Guard) Acquire(path string) (func(), error) {
	g.mu.Lock()
	entry, ok := g.paths[path]
	if !ok {
		entry = &pathLock{}
		g.paths[path] = entry
	}
	g.mu.Unlock()

	entry.mu.Lock()

	sidecar := path + ".lock"
	file, err := os.OpenFile(sidecar, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		entry.mu.Unlock()
		return nil, fmt.Errorf("open lock sidecar %s: %w", sidecar, err)
	}
	if err := g.locker.Lock(file); err != nil {
		file.Close()
		entry.mu.Unlock()
		return nil, err
	}
	entry.file = file

	released := false
	release := func() {
		if released {
			return
		}
		released = true
		_ = g.locker.Unlock(file)
		file.Close()
		entry.file = nil
		entry.mu.Unlock()
	}
	return release, nil
}
