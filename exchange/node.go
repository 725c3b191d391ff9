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

// Package exchange implements the inter-site peer of a site: it keeps
// a dual-channel link to every configured remote site, gossips
// presence, and routes message and file envelopes between the mesh
// and the local chat node.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chatmesh/chatmesh/log"
	"github.com/chatmesh/chatmesh/presence"
	"github.com/chatmesh/chatmesh/socket"
	"github.com/chatmesh/chatmesh/wire"
	"github.com/google/uuid"
)

// Peers are re-dialed on this cadence while no outbound transport is
// live.
const defaultRetryInterval = 10 * time.Second

// ErrPeerUnreachable is returned when a peer has neither an inbound
// nor an outbound transport. There is no queuing: the envelope is
// dropped.
var ErrPeerUnreachable = errors.New("peer unreachable")

// Gateway is the narrow capability the exchange node needs from the
// chat node.
type Gateway interface {
	SendMessageToClient(payload, senderJID, localUser string)
	SendMessageToAllClients(payload, senderJID string)
	HandleFileTransfer(senderJID, localUser, filename, ciphertext string)
	BroadcastPresence(frame string)
}

// PeerConfig describes one configured remote site.
type PeerConfig struct {
	Name string
	Host string
	Port int
}

// Peer is the link state for one configured remote site. Up to two
// transports exist at a time: inbound (the peer dialed us) and
// outbound (we dialed the peer). Sends prefer outbound.
type Peer struct {
	Name string
	Host string
	Port int

	mu       sync.Mutex
	inbound  *socket.Conn
	outbound *socket.Conn
}

func (p *Peer) setInbound(conn *socket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inbound != nil {
		p.inbound.Close()
	}
	p.inbound = conn
}

func (p *Peer) setOutbound(conn *socket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outbound != nil {
		p.outbound.Close()
	}
	p.outbound = conn
}

// clearConn releases whichever slot holds conn. A slot replaced in
// the meantime is left alone.
func (p *Peer) clearConn(conn *socket.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inbound == conn {
		p.inbound = nil
	}
	if p.outbound == conn {
		p.outbound = nil
	}
}

// preferred returns the transport sends should use: outbound when
// live, else inbound, else nil.
func (p *Peer) preferred() *socket.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outbound != nil {
		return p.outbound
	}
	return p.inbound
}

func (p *Peer) outboundConn() *socket.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outbound
}

// Node is the exchange node of one site. It co-owns the presence
// directory and the peer table; both are guarded for thread-parallel
// use.
type Node struct {
	site    string
	dir     *presence.Directory
	logger  log.Logger
	gateway Gateway
	retry   time.Duration

	mu    sync.Mutex
	peers map[string]*Peer // by configured name
}

// New creates an exchange node for the named site with a static peer
// list. SetGateway must be called before any traffic flows.
func New(site string, peers []PeerConfig) *Node {
	n := &Node{
		site:   site,
		dir:    presence.NewDirectory(site),
		logger: log.New("mod", "exchange", "site", site),
		retry:  defaultRetryInterval,
		peers:  make(map[string]*Peer),
	}
	for _, pc := range peers {
		n.peers[pc.Name] = &Peer{Name: pc.Name, Host: pc.Host, Port: pc.Port}
	}
	return n
}

// SetGateway installs the back-reference to the chat node.
func (n *Node) SetGateway(g Gateway) {
	n.gateway = g
}

// SetRetryInterval overrides the dialer poll cadence. Used by tests.
func (n *Node) SetRetryInterval(d time.Duration) {
	n.retry = d
}

// Directory exposes the presence directory.
func (n *Node) Directory() *presence.Directory {
	return n.dir
}

// PeerNames returns the configured peer names.
func (n *Node) PeerNames() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	names := make([]string, 0, len(n.peers))
	for name := range n.peers {
		names = append(names, name)
	}
	return names
}

func (n *Node) peer(name string) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.peers[name]
}

func (n *Node) peerByHost(host string) *Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		if p.Host == host {
			return p
		}
	}
	return nil
}

func (n *Node) peerSnapshot() []*Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	return peers
}

// Handler returns the http.Handler accepting inbound peer links.
// Dial-ins whose source host matches no configured peer are closed
// without reply.
func (n *Node) Handler(allowedOrigins []string) http.Handler {
	return socket.Handler(allowedOrigins, n.handlePeer)
}

func (n *Node) handlePeer(conn *socket.Conn) {
	defer conn.Close()
	peer := n.peerByHost(conn.RemoteHost())
	if peer == nil {
		n.logger.Warn("rejecting dial-in from unknown host", "host", conn.RemoteHost())
		return
	}
	n.logger.Info("accepted peer connection", "peer", peer.Name)
	peer.setInbound(conn)
	n.serve(peer, conn)
	peer.clearConn(conn)
}

// RunDialer keeps one outbound transport to the named peer alive. It
// polls every retry interval, dials when the slot is empty, and runs
// the envelope loop over the dialed transport. Cancelling the context
// aborts any in-flight sleep and returns.
func (n *Node) RunDialer(ctx context.Context, name string) {
	peer := n.peer(name)
	if peer == nil {
		n.logger.Error("dialer started for unconfigured peer", "peer", name)
		return
	}
	for {
		if peer.outboundConn() == nil {
			n.dialAndServe(ctx, peer)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.retry):
		}
	}
}

func (n *Node) dialAndServe(ctx context.Context, peer *Peer) {
	endpoint := fmt.Sprintf("ws://%s:%d", peer.Host, peer.Port)
	conn, err := socket.Dial(ctx, endpoint)
	if err != nil {
		n.logger.Debug("peer dial failed", "peer", peer.Name, "endpoint", endpoint, "err", err)
		return
	}
	peer.setOutbound(conn)
	n.logger.Info("peer connected", "peer", peer.Name, "endpoint", endpoint)

	// tear the link down if the dialer is cancelled mid-serve
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := n.sendOn(peer, conn, wire.Attendance()); err == nil {
		n.serve(peer, conn)
	}
	peer.clearConn(conn)
	conn.Close()
}

// serve runs the envelope-processing loop until the transport fails.
// Malformed frames are logged and skipped.
func (n *Node) serve(peer *Peer, conn *socket.Conn) {
	for {
		frame, err := conn.ReadText()
		if err != nil {
			n.logger.Debug("peer link closed", "peer", peer.Name, "err", err)
			return
		}
		env, err := wire.Parse(frame)
		if err != nil {
			n.logger.Warn("malformed peer frame", "peer", peer.Name, "err", err)
			continue
		}
		n.dispatch(peer, conn, env)
	}
}

func (n *Node) dispatch(peer *Peer, conn *socket.Conn, env wire.Envelope) {
	switch env.Tag {
	case wire.TagCheck:
		n.sendOn(peer, conn, wire.Checked())
	case wire.TagChecked:
		// liveness signal only
	case wire.TagAttendance:
		n.sendOn(peer, conn, wire.PresenceList(n.dir.Local()))
	case wire.TagPresence:
		n.UpdateGroupPresence(peer.Name, env.Presence)
	case wire.TagMessage, wire.TagFile:
		n.route(env)
	default:
		n.logger.Debug("ignoring unknown envelope", "peer", peer.Name, "tag", env.Tag)
	}
}

// route applies an incoming message or file envelope: broadcasts go
// to all local clients, directed envelopes to the one addressed local
// user. Envelopes for other sites or unknown users are dropped.
func (n *Node) route(env wire.Envelope) {
	if env.From == "" || env.To == "" || env.Info == "" {
		n.logger.Warn("dropping incomplete envelope", "tag", env.Tag)
		return
	}
	if env.To == wire.Public && env.Tag == wire.TagMessage {
		n.gateway.SendMessageToAllClients(env.Info, env.From)
		return
	}
	user, site, ok := wire.SplitJID(env.To)
	if !ok {
		n.logger.Warn("dropping envelope with malformed recipient", "to", env.To)
		return
	}
	if site != n.site {
		n.logger.Warn("dropping envelope for foreign site", "to", env.To, "site", site)
		return
	}
	if !n.dir.Contains(presence.Local, env.To) {
		n.logger.Warn("dropping envelope for unknown local user", "to", env.To)
		return
	}
	switch env.Tag {
	case wire.TagMessage:
		n.gateway.SendMessageToClient(env.Info, env.From, user)
	case wire.TagFile:
		filename := env.Filename
		if filename == "" {
			filename = "file-" + uuid.NewString()
		}
		n.gateway.HandleFileTransfer(env.From, user, filename, env.Info)
	}
}

// sendOn writes an envelope to a specific transport. A write failure
// closes the transport and releases its peer slot so the dialer can
// reconnect.
func (n *Node) sendOn(peer *Peer, conn *socket.Conn, env wire.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	if err := conn.WriteText(frame); err != nil {
		n.logger.Warn("peer send failed", "peer", peer.Name, "err", err)
		conn.Close()
		peer.clearConn(conn)
		return err
	}
	return nil
}

// sendToPeer writes an envelope on the peer's preferred transport.
func (n *Node) sendToPeer(peer *Peer, env wire.Envelope) error {
	conn := peer.preferred()
	if conn == nil {
		return ErrPeerUnreachable
	}
	return n.sendOn(peer, conn, env)
}

// SendMessageToServer forwards a direct message to the site hosting
// the target user.
func (n *Node) SendMessageToServer(sender, targetSite, targetUser, msg string) {
	peer := n.peer(targetSite)
	if peer == nil {
		n.logger.Warn("dropping message for unconfigured site", "site", targetSite)
		return
	}
	if err := n.sendToPeer(peer, wire.Message(sender, wire.JID(targetUser, targetSite), msg)); err != nil {
		n.logger.Warn("message forward failed", "site", targetSite, "err", err)
	}
}

// SendFileToServer forwards a file to the site hosting the target
// user.
func (n *Node) SendFileToServer(sender, targetSite, targetUser, filename, data string) {
	peer := n.peer(targetSite)
	if peer == nil {
		n.logger.Warn("dropping file for unconfigured site", "site", targetSite)
		return
	}
	if err := n.sendToPeer(peer, wire.File(sender, wire.JID(targetUser, targetSite), filename, data)); err != nil {
		n.logger.Warn("file forward failed", "site", targetSite, "err", err)
	}
}

// BroadcastMessage fans a public message out to every connected peer.
// Unreachable peers are skipped; there is no queuing.
func (n *Node) BroadcastMessage(senderJID, msg string) {
	env := wire.Message(senderJID, wire.Public, msg)
	for _, peer := range n.peerSnapshot() {
		if err := n.sendToPeer(peer, env); err != nil {
			n.logger.Debug("broadcast skipped peer", "peer", peer.Name, "err", err)
		}
	}
}

// BroadcastPresence pushes this site's local presence list to every
// connected peer.
func (n *Node) BroadcastPresence() {
	env := wire.PresenceList(n.dir.Local())
	for _, peer := range n.peerSnapshot() {
		if err := n.sendToPeer(peer, env); err != nil {
			n.logger.Debug("presence broadcast skipped peer", "peer", peer.Name, "err", err)
		}
	}
}

// UpdatePresence inserts a presence record. Local changes propagate
// to every peer as well as to local clients; remote changes reach
// local clients only.
func (n *Node) UpdatePresence(site, jid, nickname, publicKey string) {
	n.dir.Update(site, jid, nickname, publicKey)
	n.propagate(site == presence.Local)
}

// RemovePresence withdraws a presence record and propagates like
// UpdatePresence.
func (n *Node) RemovePresence(site, jid string) {
	n.dir.Remove(site, jid)
	n.propagate(site == presence.Local)
}

// UpdateGroupPresence replaces a remote site's bucket with the
// snapshot it pushed and refreshes local clients.
func (n *Node) UpdateGroupPresence(site string, list []wire.Presence) {
	n.dir.ReplaceSite(site, list)
	n.propagate(false)
}

func (n *Node) propagate(localChange bool) {
	frame, err := wire.PresenceList(n.dir.Flatten()).Encode()
	if err == nil {
		n.gateway.BroadcastPresence(frame)
	}
	if localChange {
		n.BroadcastPresence()
	}
}
