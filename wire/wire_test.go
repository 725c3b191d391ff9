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

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessage(t *testing.T) {
	frame, err := Message("alice@s4", "bob@s5", "hey").Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"tag":"message","from":"alice@s4","to":"bob@s5","info":"hey"}`, frame)
}

func TestEncodeFile(t *testing.T) {
	frame, err := File("alice@s4", "bob@s5", "abc.aa", "encoded_data").Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"tag":"file","from":"alice@s4","to":"bob@s5","filename":"abc.aa","info":"encoded_data"}`, frame)
}

func TestEncodeCheck(t *testing.T) {
	frame, err := Check().Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"tag":"check"}`, frame)

	frame, err = Checked().Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"tag":"checked"}`, frame)
}

func TestEncodeAttendance(t *testing.T) {
	frame, err := Attendance().Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"tag":"attendance"}`, frame)
}

func TestEncodePresence(t *testing.T) {
	frame, err := PresenceList([]Presence{{Nickname: "user1", JID: "user1", PublicKey: "key1"}}).Encode()
	require.NoError(t, err)
	assert.Equal(t, `{"tag":"presence","presence":[{"nickname":"user1","jid":"user1","publickey":"key1"}]}`, frame)
}

func TestParseRoundTrip(t *testing.T) {
	envelopes := []Envelope{
		Check(),
		Checked(),
		Attendance(),
		PresenceList([]Presence{
			{Nickname: "alice", JID: "alice@s4", PublicKey: "-----BEGIN PUBLIC KEY-----\nMIIB\n-----END PUBLIC KEY-----"},
			{Nickname: "bob", JID: "bob@s5", PublicKey: "key2"},
		}),
		Message("alice@s4", "bob@s5", "hello world"),
		Message("alice@s4", Public, "hello everyone"),
		File("alice@s4", "bob@s5", "notes.txt", "Y2lwaGVydGV4dA=="),
	}
	for _, env := range envelopes {
		frame, err := env.Encode()
		require.NoError(t, err)
		parsed, err := Parse(frame)
		require.NoError(t, err)
		assert.Equal(t, env, parsed)
		assert.True(t, parsed.Known())
	}
}

func TestParseUnknownTag(t *testing.T) {
	env, err := Parse(`{"tag":"gossip","info":"x"}`)
	require.NoError(t, err)
	assert.False(t, env.Known())
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(`{"tag":`)
	assert.Error(t, err)

	_, err = Parse("")
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestSplitJID(t *testing.T) {
	user, site, ok := SplitJID("alice@s4")
	require.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "s4", site)

	_, _, ok = SplitJID("alice")
	assert.False(t, ok)

	_, _, ok = SplitJID("@s4")
	assert.False(t, ok)

	assert.Equal(t, "alice@s4", JID("alice", "s4"))
}
