// Copyright 2026 The chatmesh Authors
// This file is part of the chatmesh library.
//
// The chatmesh library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The chatmesh library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the chatmesh library. If not, see <http://www.gnu.org/licenses/>.

// Package presence maintains the federated presence directory: which
// users are reachable on which site, together with their public keys.
package presence

import (
	"sort"
	"sync"

	"github.com/chatmesh/chatmesh/wire"
)

// Local is the reserved bucket holding this site's own users. Every
// other bucket is named after a configured remote peer.
const Local = "LOCAL"

// Directory is a two-level mapping from site name to jid to Presence.
// All methods are safe for concurrent use. The directory is process
// scoped and never persisted.
type Directory struct {
	site string

	mu      sync.RWMutex
	buckets map[string]map[string]wire.Presence
}

// NewDirectory creates an empty directory for the site with the given
// configured name. Local jids are scoped to that name.
func NewDirectory(site string) *Directory {
	return &Directory{
		site:    site,
		buckets: make(map[string]map[string]wire.Presence),
	}
}

// Site returns the configured local site name.
func (d *Directory) Site() string {
	return d.site
}

// Update inserts a presence into the given bucket and returns the
// stored jid. For the Local bucket the jid is rewritten to
// <jid>@<site> so that local entries are always fully qualified.
func (d *Directory) Update(bucket, jid, nickname, publicKey string) string {
	if bucket == Local {
		jid = wire.JID(jid, d.site)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.buckets[bucket]
	if entries == nil {
		entries = make(map[string]wire.Presence)
		d.buckets[bucket] = entries
	}
	entries[jid] = wire.Presence{Nickname: nickname, JID: jid, PublicKey: publicKey}
	return jid
}

// Remove deletes a presence from the given bucket. Removing an absent
// jid is a no-op.
func (d *Directory) Remove(bucket, jid string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buckets[bucket], jid)
}

// ReplaceSite swaps the entire bucket for the given site with the
// provided list, as happens when a peer pushes its presence snapshot.
func (d *Directory) ReplaceSite(bucket string, list []wire.Presence) {
	entries := make(map[string]wire.Presence, len(list))
	for _, p := range list {
		entries[p.JID] = p
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buckets[bucket] = entries
}

// Contains reports whether jid is present in the given bucket.
func (d *Directory) Contains(bucket, jid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.buckets[bucket][jid]
	return ok
}

// Local returns a snapshot of the Local bucket, sorted by jid so that
// presence frames are deterministic.
func (d *Directory) Local() []wire.Presence {
	return d.Snapshot(Local)
}

// Snapshot returns a sorted copy of one bucket.
func (d *Directory) Snapshot(bucket string) []wire.Presence {
	d.mu.RLock()
	list := make([]wire.Presence, 0, len(d.buckets[bucket]))
	for _, p := range d.buckets[bucket] {
		list = append(list, p)
	}
	d.mu.RUnlock()
	sortByJID(list)
	return list
}

// Flatten returns the union over all buckets, sorted by jid. Local
// jids are site scoped, so the flat view holds each jid at most once.
func (d *Directory) Flatten() []wire.Presence {
	d.mu.RLock()
	var list []wire.Presence
	for _, entries := range d.buckets {
		for _, p := range entries {
			list = append(list, p)
		}
	}
	d.mu.RUnlock()
	sortByJID(list)
	return list
}

func sortByJID(list []wire.Presence) {
	sort.Slice(list, func(i, j int) bool { return list[i].JID < list[j].JID })
}
