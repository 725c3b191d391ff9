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

// chatmesh runs one site of the federated chat mesh: the client
// gateway, the exchange peer and the dialer tasks, all in a single
// process.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chatmesh/chatmesh/log"
	"github.com/chatmesh/chatmesh/node"
	"github.com/urfave/cli/v2"
)

const version = "1.0.0"

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "Path to the site configuration file",
		Value: "server_config.yaml",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug, 5=trace",
		Value: 3,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to a rotating file in addition to stderr",
	}
	accountsFlag = &cli.StringFlag{
		Name:  "accounts",
		Usage: "Path to the accounts file",
		Value: "theaccounts.txt",
	}
)

var app = &cli.App{
	Name:    "chatmesh",
	Usage:   "federated end-to-end encrypted chat server",
	Version: version,
	Flags:   []cli.Flag{configFlag, verbosityFlag, logFileFlag},
	Action:  run,
	Commands: []*cli.Command{
		{
			Name:   "register",
			Usage:  "add an account to the accounts file",
			Flags:  []cli.Flag{accountsFlag},
			Action: register,
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	setupLogging(ctx)

	cfg, err := node.LoadConfig(ctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	site, err := node.New(cfg)
	if err != nil {
		return err
	}
	if err := site.Start(); err != nil {
		return err
	}

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("shutting down")
		site.Close()
	}()

	return site.Wait()
}

func setupLogging(ctx *cli.Context) {
	handler := log.StderrHandler
	if path := ctx.String(logFileFlag.Name); path != "" {
		handler = log.MultiHandler(handler,
			log.RotatingFileHandler(path, 100, log.LogfmtFormat()))
	}
	lvl := log.Lvl(ctx.Int(verbosityFlag.Name))
	log.Root().SetHandler(log.LvlFilterHandler(lvl, handler))
}
