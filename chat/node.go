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

// Package chat implements the local client gateway of a site: it
// terminates client websockets, authenticates users, parses the
// line-oriented command protocol and fans messages out to local
// clients or forwards them to the exchange node.
package chat

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/chatmesh/chatmesh/log"
	"github.com/chatmesh/chatmesh/presence"
	"github.com/chatmesh/chatmesh/socket"
	"github.com/chatmesh/chatmesh/wire"
)

// Client-visible protocol literals. Clients key off these strings
// byte for byte; do not reword them.
const (
	promptUsername     = "Enter your username: "
	promptPassword     = "Enter your password: "
	authOK             = "Authentication successful"
	authFailed         = "Authentication failed"
	authAlreadyLogged  = "Authentication failed: username already logged in"
	invalidFileCommand = "Invalid FILE command"
)

// Exchanger is the narrow capability the chat node needs from the
// exchange node. It is an interface so either node can be tested
// against a mock of the other.
type Exchanger interface {
	SendMessageToServer(sender, targetSite, targetUser, msg string)
	SendFileToServer(sender, targetSite, targetUser, filename, data string)
	BroadcastMessage(senderJID, msg string)
	UpdatePresence(site, jid, nickname, publicKey string)
	RemovePresence(site, jid string)
}

// Node is the chat node of one site. It owns the session tables;
// transports stored there are closed only by this node.
type Node struct {
	site     string
	accounts *Accounts
	logger   log.Logger

	exchange Exchanger

	mu       sync.Mutex
	sessions map[string]*socket.Conn // username -> transport
	names    map[*socket.Conn]string // transport -> username
}

// New creates a chat node serving users of the named site,
// authenticated against the given credential store. SetExchange must
// be called before the node accepts connections.
func New(site string, accounts *Accounts) *Node {
	return &Node{
		site:     site,
		accounts: accounts,
		logger:   log.New("mod", "chat", "site", site),
		sessions: make(map[string]*socket.Conn),
		names:    make(map[*socket.Conn]string),
	}
}

// SetExchange installs the back-reference to the exchange node.
func (n *Node) SetExchange(x Exchanger) {
	n.exchange = x
}

// Handler returns the http.Handler terminating client websockets.
func (n *Node) Handler(allowedOrigins []string) http.Handler {
	return socket.Handler(allowedOrigins, n.handleClient)
}

func (n *Node) handleClient(conn *socket.Conn) {
	defer conn.Close()

	username, ok := n.authenticate(conn)
	if !ok {
		return
	}
	if !n.addSession(username, conn) {
		// a concurrent login claimed the name after the handshake check
		conn.WriteText(authAlreadyLogged)
		return
	}
	if err := conn.WriteText(authOK); err != nil {
		n.evictSession(conn)
		return
	}
	publicKey, err := conn.ReadText()
	if err != nil {
		n.logger.Debug("client disconnected before sending public key", "user", username)
		n.evictSession(conn)
		return
	}
	jid := wire.JID(username, n.site)
	n.exchange.UpdatePresence(presence.Local, username, username, publicKey)
	n.logger.Info("client joined", "jid", jid)
	n.broadcastLocal(username+" has joined the chat.", conn)

	n.serveClient(conn, username)
}

// authenticate runs the login exchange: username prompt, password
// prompt, SHA-256 credential check. The caller claims the session and
// acknowledges success, so no success frame precedes the claim.
func (n *Node) authenticate(conn *socket.Conn) (username string, ok bool) {
	if err := conn.WriteText(promptUsername); err != nil {
		return "", false
	}
	frame, err := conn.ReadText()
	if err != nil {
		n.logger.Debug("client disconnected during authentication")
		return "", false
	}
	username = strings.TrimSpace(frame)

	if err := conn.WriteText(promptPassword); err != nil {
		return "", false
	}
	frame, err = conn.ReadText()
	if err != nil {
		n.logger.Debug("client disconnected during authentication")
		return "", false
	}
	password := strings.TrimSpace(frame)

	if n.hasSession(username) {
		n.logger.Warn("duplicate login attempt", "user", username)
		conn.WriteText(authAlreadyLogged)
		return "", false
	}
	valid, err := n.accounts.Verify(username, password)
	if err != nil {
		n.logger.Error("account lookup failed", "err", err)
		valid = false
	}
	if !valid {
		n.logger.Warn("authentication failed", "user", username)
		conn.WriteText(authFailed)
		return "", false
	}
	return username, true
}

func (n *Node) serveClient(conn *socket.Conn, username string) {
	for {
		frame, err := conn.ReadText()
		if err != nil {
			n.removeClient(conn)
			return
		}
		if frame == "" {
			conn.Close()
			n.removeClient(conn)
			return
		}
		n.logger.Debug("client frame", "user", username, "frame", frame)

		switch {
		case strings.EqualFold(strings.TrimSpace(frame), "EXIT"):
			conn.Close()
			n.removeClient(conn)
			return
		case strings.HasPrefix(frame, "@"):
			n.handleDirect(conn, username, frame)
		case strings.HasPrefix(frame, "FILE "):
			n.handleFile(conn, username, frame)
		default:
			n.handleBroadcast(conn, username, frame)
		}
	}
}

// handleDirect parses @<user>[@<site>] <payload>. Missing or local
// site means local delivery; anything else goes through the exchange
// node.
func (n *Node) handleDirect(conn *socket.Conn, sender, frame string) {
	target, payload, ok := strings.Cut(frame, " ")
	if !ok {
		return
	}
	parts := strings.Split(target, "@") // "@bob@s5" -> ["", "bob", "s5"]
	if len(parts) < 2 || parts[1] == "" {
		return
	}
	targetUser := parts[1]
	senderJID := wire.JID(sender, n.site)
	if len(parts) < 3 || parts[2] == "" || parts[2] == n.site {
		n.deliverDirect(conn, senderJID, targetUser, payload)
		return
	}
	n.exchange.SendMessageToServer(senderJID, parts[2], targetUser, payload)
}

// handleFile parses FILE <user>[@<site>] <filename> <ciphertext>.
func (n *Node) handleFile(conn *socket.Conn, sender, frame string) {
	parts := strings.SplitN(frame, " ", 4)
	if len(parts) < 4 || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		n.logger.Warn("invalid FILE command", "user", sender)
		if err := conn.WriteText(invalidFileCommand); err != nil {
			n.dropClient(conn)
		}
		return
	}
	target, filename, data := parts[1], parts[2], parts[3]
	senderJID := wire.JID(sender, n.site)
	targetUser, targetSite, hasSite := strings.Cut(target, "@")
	if !hasSite || targetSite == n.site {
		n.deliverFile(conn, senderJID, targetUser, filename, data)
		return
	}
	n.exchange.SendFileToServer(senderJID, targetSite, targetUser, filename, data)
}

func (n *Node) handleBroadcast(conn *socket.Conn, sender, payload string) {
	n.broadcastLocal(fmt.Sprintf("%s: %s", sender, payload), conn)
	n.exchange.BroadcastMessage(wire.JID(sender, n.site), payload)
}

// deliverDirect sends a direct message to a local user, or tells the
// sender the user is unknown.
func (n *Node) deliverDirect(origin *socket.Conn, senderJID, targetUser, payload string) {
	target := n.session(targetUser)
	if target == nil {
		if origin != nil {
			if err := origin.WriteText(fmt.Sprintf("User %s not found.", targetUser)); err != nil {
				n.dropClient(origin)
			}
		}
		return
	}
	if err := target.WriteText(fmt.Sprintf("@%s to %s: %s", senderJID, targetUser, payload)); err != nil {
		n.logger.Warn("direct delivery failed", "to", targetUser, "err", err)
		n.dropClient(target)
	}
}

// deliverFile sends a file frame to a local user. The miss reply goes
// to the originating transport only when the command came from a live
// local client.
func (n *Node) deliverFile(origin *socket.Conn, senderJID, targetUser, filename, data string) {
	target := n.session(targetUser)
	if target == nil {
		if origin != nil {
			if err := origin.WriteText(fmt.Sprintf("User %s not found.", targetUser)); err != nil {
				n.dropClient(origin)
			}
		}
		return
	}
	if err := target.WriteText(fmt.Sprintf("FILE %s %s %s", senderJID, data, filename)); err != nil {
		n.logger.Warn("file delivery failed", "from", senderJID, "to", targetUser, "err", err)
		n.dropClient(target)
	}
}

// broadcastLocal fans a frame out to every local client except the
// originating transport. A failed recipient is dropped without
// affecting the others.
func (n *Node) broadcastLocal(frame string, except *socket.Conn) {
	for _, conn := range n.connSnapshot() {
		if conn == except {
			continue
		}
		if err := conn.WriteText(frame); err != nil {
			n.dropClient(conn)
		}
	}
}

// SendMessageToClient delivers a message routed in from a remote site
// to one local user. Unknown users are dropped with a warning; the
// remote sender gets no reply.
func (n *Node) SendMessageToClient(payload, senderJID, localUser string) {
	target := n.session(localUser)
	if target == nil {
		n.logger.Warn("dropping message for unknown local user", "user", localUser, "from", senderJID)
		return
	}
	if err := target.WriteText(fmt.Sprintf("@%s to %s: %s", senderJID, localUser, payload)); err != nil {
		n.dropClient(target)
	}
}

// SendMessageToAllClients delivers a remote broadcast to every local
// client.
func (n *Node) SendMessageToAllClients(payload, senderJID string) {
	frame := fmt.Sprintf("BROADCAST from %s: %s", senderJID, payload)
	for _, conn := range n.connSnapshot() {
		if err := conn.WriteText(frame); err != nil {
			n.dropClient(conn)
		}
	}
}

// HandleFileTransfer delivers a file routed in from a remote site to
// one local user.
func (n *Node) HandleFileTransfer(senderJID, localUser, filename, ciphertext string) {
	target := n.session(localUser)
	if target == nil {
		n.logger.Warn("dropping file for unknown local user", "user", localUser, "from", senderJID)
		return
	}
	if err := target.WriteText(fmt.Sprintf("FILE %s %s %s", senderJID, ciphertext, filename)); err != nil {
		n.logger.Warn("file delivery failed", "from", senderJID, "to", localUser, "err", err)
		n.dropClient(target)
	}
}

// BroadcastPresence pushes a presence snapshot frame to every local
// client.
func (n *Node) BroadcastPresence(frame string) {
	for _, conn := range n.connSnapshot() {
		if err := conn.WriteText(frame); err != nil {
			n.dropClient(conn)
		}
	}
}

func (n *Node) addSession(username string, conn *socket.Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.sessions[username]; exists {
		return false
	}
	n.sessions[username] = conn
	n.names[conn] = username
	return true
}

// evictSession releases a claimed session that never completed the
// handshake. No presence was announced for it, so nothing is
// broadcast.
func (n *Node) evictSession(conn *socket.Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if username, ok := n.names[conn]; ok {
		delete(n.sessions, username)
		delete(n.names, conn)
	}
}

func (n *Node) hasSession(username string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.sessions[username]
	return ok
}

func (n *Node) session(username string) *socket.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessions[username]
}

func (n *Node) connSnapshot() []*socket.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	conns := make([]*socket.Conn, 0, len(n.sessions))
	for _, conn := range n.sessions {
		conns = append(conns, conn)
	}
	return conns
}

// dropClient treats a send failure as a hard disconnect.
func (n *Node) dropClient(conn *socket.Conn) {
	conn.Close()
	n.removeClient(conn)
}

// removeClient tears down the session of a departed transport and
// withdraws its presence. Safe to call more than once per transport.
func (n *Node) removeClient(conn *socket.Conn) {
	n.mu.Lock()
	username, ok := n.names[conn]
	if ok {
		delete(n.sessions, username)
		delete(n.names, conn)
	}
	n.mu.Unlock()
	if !ok {
		return
	}
	conn.Close()
	n.exchange.RemovePresence(presence.Local, wire.JID(username, n.site))
	n.logger.Info("client left", "user", username)
	n.broadcastLocal(username+" has left the chat.", conn)
}
