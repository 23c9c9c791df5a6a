// Copyright (C) 2014 Jakob Borg and Contributors (see the CONTRIBUTORS file).
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
// more details.
//
// You should have received a copy of the GNU General Public License along
// with this program. If not, see <http://www.gnu.org/licenses/>.

// Package peerbook is the minimal stand-in for spec §6's "discovery
// layer": a static, YAML-loaded address book of known peers, tracking
// which ones have been seen recently so internal/coordinator's
// PeerOracle gate (§4.11's online-window check) has something real to
// consult. A production discovery layer (LAN broadcast, a rendezvous
// server) would satisfy the same coordinator.PeerOracle interface
// without this package's callers changing. Grounded on
// internal/syncconfig's yaml-via-sigs.k8s.io/yaml loading style.
package peerbook

import (
	"fmt"
	"os"
	"sync"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/calmh/peersync/internal/coordinator"
)

// Entry is one statically configured peer.
type Entry struct {
	PeerID  string `json:"peerID"`
	Address string `json:"address"`
}

type file struct {
	Peers []Entry `json:"peers"`
}

// Load reads a peer address book from a YAML document at path.
func Load(path string) ([]Entry, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(bs, &f); err != nil {
		return nil, fmt.Errorf("peerbook: parsing %s: %w", path, err)
	}
	for i, e := range f.Peers {
		if e.PeerID == "" {
			return nil, fmt.Errorf("peerbook: entry %d missing peerID", i)
		}
		if e.Address == "" {
			return nil, fmt.Errorf("peerbook: entry %d missing address", i)
		}
	}
	return f.Peers, nil
}

type liveEntry struct {
	address    string
	lastSeenAt time.Time
	syncIDs    map[string]struct{}
}

// Book tracks liveness for a static set of peers against a static set
// of folders every peer is assumed to announce. Touch marks a peer seen
// (call it after a successful dial or an incoming connection); Peers
// satisfies coordinator.PeerOracle.
type Book struct {
	mu      sync.Mutex
	entries map[string]*liveEntry
}

// New builds a Book from a loaded address book, assuming every listed
// peer announces every one of syncIDs. A peer starts with LastSeenAt
// zero (never seen) until Touch is called, so the online-window gate
// rejects it until contact is actually made.
func New(entries []Entry, syncIDs []string) *Book {
	ids := make(map[string]struct{}, len(syncIDs))
	for _, id := range syncIDs {
		ids[id] = struct{}{}
	}
	b := &Book{entries: make(map[string]*liveEntry, len(entries))}
	for _, e := range entries {
		b.entries[e.PeerID] = &liveEntry{address: e.Address, syncIDs: ids}
	}
	return b
}

// Touch marks peerID as seen just now.
func (b *Book) Touch(peerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.entries[peerID]; ok {
		e.lastSeenAt = time.Now()
	}
}

// Peers implements coordinator.PeerOracle: every known peer that
// announces syncID, with its current liveness snapshot.
func (b *Book) Peers(syncID string) []coordinator.PeerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]coordinator.PeerInfo, 0, len(b.entries))
	for id, e := range b.entries {
		if _, ok := e.syncIDs[syncID]; !ok {
			continue
		}
		out = append(out, coordinator.PeerInfo{
			PeerID:           id,
			Addresses:        []string{e.address},
			LastSeenAt:       e.lastSeenAt,
			AnnouncedSyncIDs: e.syncIDs,
		})
	}
	return out
}
