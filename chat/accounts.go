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

package chat

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrAccountExists is returned by Register for duplicate usernames.
var ErrAccountExists = errors.New("username already exists")

// Accounts verifies credentials against a text file holding one
// <username>::<hex-sha256-of-password> record per line. The file is
// re-read on every attempt so account changes take effect without a
// restart.
type Accounts struct {
	path string
}

// NewAccounts returns a credential store backed by the given file.
func NewAccounts(path string) *Accounts {
	return &Accounts{path: path}
}

// HashPassword returns the lowercase hex SHA-256 digest of the UTF-8
// password bytes, the stored credential form.
func HashPassword(password string) string {
	digest := sha256.Sum256([]byte(password))
	return hex.EncodeToString(digest[:])
}

// Verify reports whether username/password matches a stored record.
// A read error aborts the attempt; callers treat it as a failed
// authentication.
func (a *Accounts) Verify(username, password string) (bool, error) {
	records, err := a.load()
	if err != nil {
		return false, err
	}
	stored, ok := records[username]
	return ok && stored == HashPassword(password), nil
}

// Register appends a new account record. It fails if the username is
// already taken.
func (a *Accounts) Register(username, password string) error {
	if strings.Contains(username, ":") || strings.ContainsAny(username, "@ \t") {
		return fmt.Errorf("invalid username %q", username)
	}
	records, err := a.load()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if _, ok := records[username]; ok {
		return ErrAccountExists
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s::%s\n", username, HashPassword(password))
	return err
}

func (a *Accounts) load() (map[string]string, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		username, digest, ok := strings.Cut(line, "::")
		if !ok {
			return nil, fmt.Errorf("malformed account record %q", line)
		}
		records[username] = digest
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
