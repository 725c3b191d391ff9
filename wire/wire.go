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

// Package wire defines the exchange protocol spoken between sites.
// Every peer frame is one JSON object discriminated by its "tag"
// field. The "publickey" field name is part of the wire contract and
// must stay lowercase.
package wire

import (
	"encoding/json"
	"errors"
	"strings"
)

// Envelope tags. Frames with any other tag are ignored by receivers.
const (
	TagCheck      = "check"
	TagChecked    = "checked"
	TagAttendance = "attendance"
	TagPresence   = "presence"
	TagMessage    = "message"
	TagFile       = "file"
)

// Public is the reserved recipient of broadcast message envelopes.
const Public = "public"

// ErrEmptyFrame is returned by Parse for frames with no content.
var ErrEmptyFrame = errors.New("empty frame")

// Presence advertises one reachable user. PublicKey is an opaque PEM
// blob the servers never interpret.
type Presence struct {
	Nickname  string `json:"nickname"`
	JID       string `json:"jid"`
	PublicKey string `json:"publickey"`
}

// Envelope is the tagged record carried on peer links. Fields beyond
// Tag are populated depending on the kind; zero-valued fields are
// omitted from the wire form.
type Envelope struct {
	Tag      string     `json:"tag"`
	From     string     `json:"from,omitempty"`
	To       string     `json:"to,omitempty"`
	Filename string     `json:"filename,omitempty"`
	Info     string     `json:"info,omitempty"`
	Presence []Presence `json:"presence,omitempty"`
}

// Check requests a liveness probe.
func Check() Envelope {
	return Envelope{Tag: TagCheck}
}

// Checked answers a liveness probe.
func Checked() Envelope {
	return Envelope{Tag: TagChecked}
}

// Attendance asks a peer for its current local presence list.
func Attendance() Envelope {
	return Envelope{Tag: TagAttendance}
}

// PresenceList carries a site's presence snapshot.
func PresenceList(list []Presence) Envelope {
	return Envelope{Tag: TagPresence, Presence: list}
}

// Message carries a routed chat payload. The recipient is either a
// jid or the reserved value Public.
func Message(from, to, info string) Envelope {
	return Envelope{Tag: TagMessage, From: from, To: to, Info: info}
}

// File carries an end-to-end encrypted file. Info holds the
// ciphertext; the servers never see plaintext.
func File(from, to, filename, info string) Envelope {
	return Envelope{Tag: TagFile, From: from, To: to, Filename: filename, Info: info}
}

// Known reports whether the envelope carries one of the defined tags.
// Unknown envelopes parse successfully and are dropped by receivers.
func (e Envelope) Known() bool {
	switch e.Tag {
	case TagCheck, TagChecked, TagAttendance, TagPresence, TagMessage, TagFile:
		return true
	}
	return false
}

// Encode renders the envelope as a single JSON text frame.
func (e Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Parse decodes one JSON text frame into an Envelope.
func Parse(frame string) (Envelope, error) {
	var e Envelope
	if strings.TrimSpace(frame) == "" {
		return e, ErrEmptyFrame
	}
	if err := json.Unmarshal([]byte(frame), &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// JID forms the fully qualified identifier <user>@<site>.
func JID(user, site string) string {
	return user + "@" + site
}

// SplitJID splits <user>@<site> into its parts. ok is false when the
// value has no site component.
func SplitJID(jid string) (user, site string, ok bool) {
	user, site, ok = strings.Cut(jid, "@")
	if !ok || user == "" || site == "" {
		return "", "", false
	}
	return user, site, true
}
