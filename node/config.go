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
	"strconv"

	"gopkg.in/yaml.v3"
)

// Endpoint is one listening address.
type Endpoint struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr renders the endpoint as host:port.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// withDefaults fills only the missing fields of an endpoint.
func (e *Endpoint) withDefaults(d Endpoint) {
	if e.Host == "" {
		e.Host = d.Host
	}
	if e.Port == 0 {
		e.Port = d.Port
	}
}

// RemoteServer names one peer site of the mesh.
type RemoteServer struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Config is the site configuration document.
type Config struct {
	ServerName     string         `yaml:"server_name"`
	AccountsFile   string         `yaml:"accounts_file"`
	ChatServer     Endpoint       `yaml:"chat_server"`
	ExchangeServer Endpoint       `yaml:"exchange_server"`
	RemoteServers  []RemoteServer `yaml:"remote_servers"`
	AllowedOrigins []string       `yaml:"allowed_origins"`
}

// DefaultConfig mirrors the fallbacks applied to missing keys.
var DefaultConfig = Config{
	ServerName:     "s4",
	AccountsFile:   "theaccounts.txt",
	ChatServer:     Endpoint{Host: "localhost", Port: 12345},
	ExchangeServer: Endpoint{Host: "localhost", Port: 5555},
	AllowedOrigins: []string{"*"},
}

// LoadConfig reads and validates a YAML site configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Sanitize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize applies defaults for missing keys and rejects
// configurations the nodes cannot run with.
func (c *Config) Sanitize() error {
	if c.ServerName == "" {
		c.ServerName = DefaultConfig.ServerName
	}
	if c.AccountsFile == "" {
		c.AccountsFile = DefaultConfig.AccountsFile
	}
	c.ChatServer.withDefaults(DefaultConfig.ChatServer)
	c.ExchangeServer.withDefaults(DefaultConfig.ExchangeServer)
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = DefaultConfig.AllowedOrigins
	}
	seen := make(map[string]bool)
	for _, rs := range c.RemoteServers {
		if rs.Name == "" || rs.Host == "" || rs.Port == 0 {
			return fmt.Errorf("remote server %q needs name, host and port", rs.Name)
		}
		if rs.Name == c.ServerName {
			return fmt.Errorf("remote server %q shadows this site", rs.Name)
		}
		if seen[rs.Name] {
			return fmt.Errorf("duplicate remote server %q", rs.Name)
		}
		seen[rs.Name] = true
	}
	return nil
}
