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

// Package node wires one site together: the chat node, the exchange
// node, their two listeners and the per-peer dialer tasks.
package node

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/chatmesh/chatmesh/chat"
	"github.com/chatmesh/chatmesh/exchange"
	"github.com/chatmesh/chatmesh/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Node is one running site: both servers plus the dialer tasks.
type Node struct {
	cfg    *Config
	logger log.Logger

	chat     *chat.Node
	exchange *exchange.Node

	chatSrv     *http.Server
	exchangeSrv *http.Server

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New builds a site from its configuration and wires the
// back-references between the two nodes.
func New(cfg *Config) (*Node, error) {
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	chatNode := chat.New(cfg.ServerName, chat.NewAccounts(cfg.AccountsFile))

	peers := make([]exchange.PeerConfig, 0, len(cfg.RemoteServers))
	for _, rs := range cfg.RemoteServers {
		peers = append(peers, exchange.PeerConfig{Name: rs.Name, Host: rs.Host, Port: rs.Port})
	}
	exchangeNode := exchange.New(cfg.ServerName, peers)

	chatNode.SetExchange(exchangeNode)
	exchangeNode.SetGateway(chatNode)

	return &Node{
		cfg:      cfg,
		logger:   log.New("site", cfg.ServerName),
		chat:     chatNode,
		exchange: exchangeNode,
	}, nil
}

// Chat returns the chat node.
func (n *Node) Chat() *chat.Node {
	return n.chat
}

// Exchange returns the exchange node.
func (n *Node) Exchange() *exchange.Node {
	return n.exchange
}

// Start binds both listeners and launches one dialer task per
// configured peer. It returns once everything is running.
func (n *Node) Start() error {
	chatLn, err := net.Listen("tcp", n.cfg.ChatServer.Addr())
	if err != nil {
		return err
	}
	exchangeLn, err := net.Listen("tcp", n.cfg.ExchangeServer.Addr())
	if err != nil {
		chatLn.Close()
		return err
	}

	n.chatSrv = &http.Server{Handler: n.chat.Handler(n.cfg.AllowedOrigins)}
	n.exchangeSrv = &http.Server{Handler: n.exchange.Handler(n.cfg.AllowedOrigins)}

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.group = new(errgroup.Group)

	n.group.Go(func() error {
		return ignoreServerClosed(n.chatSrv.Serve(chatLn))
	})
	n.group.Go(func() error {
		return ignoreServerClosed(n.exchangeSrv.Serve(exchangeLn))
	})
	for _, name := range n.exchange.PeerNames() {
		name := name
		n.group.Go(func() error {
			n.exchange.RunDialer(ctx, name)
			return nil
		})
	}

	n.logger.Info("chat node listening", "addr", chatLn.Addr())
	n.logger.Info("exchange node listening", "addr", exchangeLn.Addr(), "peers", len(n.cfg.RemoteServers))
	return nil
}

// Wait blocks until the site stops.
func (n *Node) Wait() error {
	return n.group.Wait()
}

// Close cancels the dialer tasks, shuts both servers down and waits
// for everything to unwind.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if n.chatSrv != nil {
		errs = append(errs, n.chatSrv.Shutdown(ctx))
	}
	if n.exchangeSrv != nil {
		errs = append(errs, n.exchangeSrv.Shutdown(ctx))
	}
	if n.group != nil {
		errs = append(errs, n.group.Wait())
	}
	return errors.Join(errs...)
}

func ignoreServerClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
