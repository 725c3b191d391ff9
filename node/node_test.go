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

package node

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testPEM    = "-----BEGIN PUBLIC KEY-----\nMIIB\n-----END PUBLIC KEY-----"
	pwHash     = "30c952fab122c3f9759f02a6d95c3758b246b4fee239957b2d4fee46e26170c4" // sha256("pw")
	meshWindow = 10 * time.Second
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeAccountsFile(t *testing.T, users ...string) string {
	t.Helper()
	var sb strings.Builder
	for _, u := range users {
		fmt.Fprintf(&sb, "%s::%s\n", u, pwHash)
	}
	path := filepath.Join(t.TempDir(), "theaccounts.txt")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0600))
	return path
}

func startSite(t *testing.T, name, accounts string, chatPort, exchangePort int, peers []RemoteServer) *Node {
	t.Helper()
	cfg := &Config{
		ServerName:     name,
		AccountsFile:   accounts,
		ChatServer:     Endpoint{Host: "127.0.0.1", Port: chatPort},
		ExchangeServer: Endpoint{Host: "127.0.0.1", Port: exchangePort},
		RemoteServers:  peers,
		AllowedOrigins: []string{"*"},
	}
	site, err := New(cfg)
	require.NoError(t, err)
	site.Exchange().SetRetryInterval(100 * time.Millisecond)
	require.NoError(t, site.Start())
	t.Cleanup(func() { site.Close() })
	return site
}

type meshClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func loginClient(t *testing.T, chatPort int, user string) *meshClient {
	t.Helper()
	endpoint := fmt.Sprintf("ws://127.0.0.1:%d", chatPort)
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	c := &meshClient{t: t, conn: conn}

	c.expect("Enter your username: ")
	c.send(user)
	c.expect("Enter your password: ")
	c.send("pw")
	c.expect("Authentication successful")
	c.send(testPEM)
	return c
}

func (c *meshClient) send(msg string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func (c *meshClient) expect(want string) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(meshWindow))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	require.Equal(c.t, want, string(data))
}

// recvUntil reads frames until one contains the wanted substring.
// Presence snapshots and join notices interleave with deliveries, so
// mesh tests match on content rather than strict order.
func (c *meshClient) recvUntil(substr string) string {
	c.t.Helper()
	deadline := time.Now().Add(meshWindow)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(deadline)
		_, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "link failed while waiting for %q", substr)
		if strings.Contains(string(data), substr) {
			return string(data)
		}
	}
	c.t.Fatalf("no frame containing %q within %v", substr, meshWindow)
	return ""
}

func TestTwoSiteFederation(t *testing.T) {
	if testing.Short() {
		t.Skip("mesh test in short mode")
	}
	accounts := writeAccountsFile(t, "alice", "bob")
	chat4, exchange4 := freePort(t), freePort(t)
	chat5, exchange5 := freePort(t), freePort(t)

	startSite(t, "s4", accounts, chat4, exchange4,
		[]RemoteServer{{Name: "s5", Host: "127.0.0.1", Port: exchange5}})
	startSite(t, "s5", accounts, chat5, exchange5,
		[]RemoteServer{{Name: "s4", Host: "127.0.0.1", Port: exchange4}})

	alice := loginClient(t, chat4, "alice")
	bob := loginClient(t, chat5, "bob")

	// presence gossip crosses the mesh in both directions
	alice.recvUntil(`"jid":"bob@s5"`)
	bob.recvUntil(`"jid":"alice@s4"`)

	// cross-site direct message
	alice.send("@bob@s5 hey")
	bob.recvUntil("@alice@s4 to bob: hey")

	// federated broadcast
	alice.send("hello world")
	bob.recvUntil("BROADCAST from alice@s4: hello world")

	// cross-site file transfer
	alice.send("FILE bob@s5 notes.txt Y2lwaGVy")
	bob.recvUntil("FILE alice@s4 Y2lwaGVy notes.txt")

	// and the reverse direction over the same links
	bob.send("@alice@s4 hi back")
	alice.recvUntil("@bob@s5 to alice: hi back")
}
