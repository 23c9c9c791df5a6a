// Copyright (C) 2016 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package watcher implements the WatcherBridge of spec §4.11/§9: an
// OS-level file system event listener that debounces bursts of events
// into a single "something changed, reconcile soon" trigger, filtering
// out events caused by the coordinator's own writes via the shared
// sync-write cooldown table. Grounded on
// lib/fswatcher/fswatcher_slow_mocked_test.go's watcher struct (mainLoop
// reading a notify.EventInfo channel, a resettable debounce timer, a
// maxFiles channel-overflow guard) -- the package's non-test
// implementation file was not present in the retrieval pack, so the
// struct shape below is reconstructed from that test's expectations and
// from github.com/syncthing/notify's published Watch/Stop API.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/syncthing/notify"

	"github.com/calmh/peersync/internal/cooldown"
	"github.com/calmh/peersync/internal/logger"
	"github.com/calmh/peersync/internal/server"
)

var (
	debug = strings.Contains(os.Getenv("STTRACE"), "watcher") || os.Getenv("STTRACE") == "all"
	l     = logger.DefaultLogger
)

// maxFiles bounds the backend event channel; an overflow collapses the
// pending batch down to a single trigger rather than growing without
// bound, mirroring lib/fswatcher's channel-overflow guard.
const maxFiles = 2048

// defaultDebounce is debounce_delay from spec §6's tunables table.
const defaultDebounce = 2 * time.Second

// Bridge watches one folder root for file system changes and calls
// OnChange, debounced, whenever something changes that isn't an echo of
// the coordinator's own recent write.
type Bridge struct {
	SyncID   string
	Root     string
	Cooldown *cooldown.Table // shared with server.Folder.Cooldown for this sync id
	Debounce time.Duration   // defaults to defaultDebounce if zero
	// OnChange is called (from Serve's goroutine) after a debounce
	// window closes with no further events. May be nil, in which case
	// Serve simply drains and discards events.
	OnChange func()

	events chan notify.EventInfo
}

func New(b *Bridge) *Bridge {
	if b.Debounce == 0 {
		b.Debounce = defaultDebounce
	}
	b.events = make(chan notify.EventInfo, maxFiles)
	return b
}

// Serve watches b.Root recursively until ctx is canceled, satisfying
// thejerf/suture/v4's Service interface.
func (b *Bridge) Serve(ctx context.Context) error {
	if err := notify.Watch(filepath.Join(b.Root, "..."), b.events, notify.All); err != nil {
		return err
	}
	defer notify.Stop(b.events)

	return b.mainLoop(ctx, b.events)
}

// mainLoop implements the debounce state machine: every accepted event
// (re)starts a timer; OnChange fires once the timer elapses without a
// further accepted event arriving. Split out from Serve so tests can
// drive it directly against a fake event channel, the same shape as
// lib/fswatcher's mocked backend tests.
func (b *Bridge) mainLoop(ctx context.Context, events <-chan notify.EventInfo) error {
	var timer *time.Timer
	var timerC <-chan time.Time
	pending := false

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if !b.accept(ev) {
				continue
			}
			pending = true
			stopTimer()
			timer = time.NewTimer(b.Debounce)
			timerC = timer.C

		case <-timerC:
			stopTimer()
			if pending && b.OnChange != nil {
				if debug {
					l.Debugf("watcher: %s: firing OnChange after debounce", b.SyncID)
				}
				b.OnChange()
			}
			pending = false
		}
	}
}

// accept reports whether ev should count toward the debounce window: it
// isn't within this path's sync-write cooldown (i.e. it isn't an echo of
// a write the coordinator itself just performed).
func (b *Bridge) accept(ev notify.EventInfo) bool {
	rel, err := filepath.Rel(b.Root, ev.Path())
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if b.Cooldown == nil {
		return true
	}
	key := b.SyncID + "\x00" + rel
	if b.Cooldown.Active(key, server.SyncWriteCooldown) {
		if debug {
			l.Debugf("watcher: %s: dropping self-echo for %q", b.SyncID, rel)
		}
		return false
	}
	return true
}
