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

// Package socket wraps gorilla/websocket connections as text-frame
// transports with serialized writes. Both the chat listener and the
// exchange peer links are built on Conn.
package socket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/chatmesh/chatmesh/log"
	"github.com/gorilla/websocket"
)

const (
	wsReadBuffer  = 1024
	wsWriteBuffer = 1024
	wsReadLimit   = 32 * 1024 * 1024
)

var wsBufferPool = new(sync.Pool)

// Conn is a long-lived bidirectional text-frame transport. Reads may
// run concurrently with writes, but writes are serialized internally
// because the underlying websocket connection supports only a single
// writer.
type Conn struct {
	conn *websocket.Conn

	wmu sync.Mutex // serializes frame writes

	closeOnce sync.Once
	closeErr  error
}

func newConn(conn *websocket.Conn) *Conn {
	conn.SetReadLimit(wsReadLimit)
	return &Conn{conn: conn}
}

// ReadText blocks until the next text frame arrives and returns its
// payload. Non-text frames are skipped. The returned error is
// permanent: once ReadText fails the transport is unusable.
func (c *Conn) ReadText() (string, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if typ == websocket.TextMessage {
			return string(data), nil
		}
	}
}

// WriteText sends one text frame.
func (c *Conn) WriteText(msg string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Close tears down the transport. It is safe to call multiple times
// and from multiple goroutines.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// RemoteHost returns the host portion of the remote address, used to
// match dial-in peers against the configured peer list.
func (c *Conn) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.conn.RemoteAddr().String())
	if err != nil {
		return c.conn.RemoteAddr().String()
	}
	return host
}

// Handler returns an http.Handler that upgrades requests to websocket
// transports and passes each accepted transport to serve. The serve
// callback runs on the request goroutine and should not return until
// the transport is done.
//
// allowedOrigins should be a comma-separated list of allowed origin URLs.
// To allow connections with any origin, pass "*".
func Handler(allowedOrigins []string, serve func(*Conn)) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		CheckOrigin:     handshakeValidator(allowedOrigins),
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("WebSocket upgrade failed", "err", err)
			return
		}
		serve(newConn(conn))
	})
}

// Dial connects to the websocket endpoint (a ws:// URL). The context
// applies to connection establishment only.
func Dial(ctx context.Context, endpoint string) (*Conn, error) {
	dialer := websocket.Dialer{
		ReadBufferSize:  wsReadBuffer,
		WriteBufferSize: wsWriteBuffer,
		WriteBufferPool: wsBufferPool,
		Proxy:           http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w (HTTP status %s)", err, resp.Status)
		}
		return nil, err
	}
	return newConn(conn), nil
}

// handshakeValidator returns a handler that verifies the origin during
// the websocket upgrade process. When a '*' is specified as an allowed
// origin all connections are accepted.
func handshakeValidator(allowedOrigins []string) func(*http.Request) bool {
	origins := mapset.NewSet[string]()
	allowAllOrigins := false

	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAllOrigins = true
		}
		if origin != "" {
			origins.Add(strings.ToLower(origin))
		}
	}
	// allow localhost if no allowedOrigins are specified
	if len(origins.ToSlice()) == 0 {
		origins.Add("http://localhost")
		if hostname, err := os.Hostname(); err == nil {
			origins.Add("http://" + strings.ToLower(hostname))
		}
	}

	return func(req *http.Request) bool {
		// Skip origin verification if no Origin header is present. The
		// origin check is supposed to protect against browser based
		// attacks; browsers always set Origin.
		if _, ok := req.Header["Origin"]; !ok {
			return true
		}
		origin := strings.ToLower(req.Header.Get("Origin"))
		if allowAllOrigins || origins.Contains(origin) {
			return true
		}
		log.Warn("Rejected WebSocket connection", "origin", origin)
		return false
	}
}
