// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lock

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAcquireRelease verifies basic lock/unlock and sidecar creation.
func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SOUL.md")
	guard := NewGuard()

	release, err := guard.Acquire(path)
	require.NoError(t, err)

	_, err = os.Stat(path + ".lock")
	assert.NoError(t, err, "sidecar lock file should exist")

	release()
	// Double release is a no-op.
	release()

	// Reacquire after release.
	release2, err := guard.Acquire(path)
	require.NoError(t, err)
	release2()
}

// TestAcquireSerializes verifies two goroutines never hold the same
// path lock simultaneously.
func TestAcquireSerializes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "SOUL.md")
	guard := NewGuard()

	var mu sync.Mutex
	holders := 0
	maxHolders := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := guard.Acquire(path)
			if err != nil {
				return
			}
			mu.Lock()
			holders++
			if holders > maxHolders {
				maxHolders = holders
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			holders--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxHolders, "at most one holder at a time")
}

// TestIndependentPaths verifies different paths do not block each other.
func TestIndependentPaths(t *testing.T) {
	dir := t.TempDir()
	guard := NewGuard()

	releaseA, err := guard.Acquire(filepath.Join(dir, "a.md"))
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := guard.Acquire(filepath.Join(dir, "b.md"))
		if err == nil {
			releaseB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent path blocked")
	}
}
