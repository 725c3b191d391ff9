// Copyright 2026 The chatmesh Authors
// This file is part of chatmesh.
//
// chatmesh is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// chatmesh is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with chatmesh. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/chatmesh/chatmesh/chat"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

// register appends a <username>::<sha256hex> record to the accounts
// file after prompting for the credentials.
func register(ctx *cli.Context) error {
	fmt.Print("Enter new username: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	username := strings.TrimSpace(line)
	if username == "" {
		return fmt.Errorf("empty username")
	}

	fmt.Print("Enter password for this user: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return err
	}

	accounts := chat.NewAccounts(ctx.String(accountsFlag.Name))
	if err := accounts.Register(username, string(password)); err != nil {
		return err
	}
	fmt.Printf("Account %s created!\n", username)
	return nil
}
