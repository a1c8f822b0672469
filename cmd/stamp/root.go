// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/stamp/cmd/stamp/cli"
	"github.com/bureau-foundation/stamp/lib/config"
	"github.com/bureau-foundation/stamp/lib/service"
	"github.com/bureau-foundation/stamp/lib/version"
)

func root() *cli.Command {
	return &cli.Command{
		Name:        "stamp",
		Summary:     "Tamper-evident artifact issuance and verification",
		Description: "Issue sealed QR artifacts, verify scanned payloads, and manage the shard store of a stamp-service.",
		Subcommands: []*cli.Command{
			issueCommand(),
			verifyCommand(),
			shardsCommand(),
			shardCommand(),
			exportCommand(),
			statsCommand(),
			statusCommand(),
			bundleCommand(),
			keygenCommand(),
			capacityCommand(),
			versionCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Issue artifacts from a request file",
				Command:     "stamp issue --config /etc/stamp/stamp.yaml requests.jsonc",
			},
			{
				Description: "Verify a scanned QR payload",
				Command:     "stamp verify scan.json",
			},
		},
	}
}

// connection holds the flags that locate the service socket. An
// explicit --socket wins; otherwise the socket comes from the config
// file named by --config or STAMP_CONFIG.
type connection struct {
	socket     string
	configPath string
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socket, "socket", "", "service socket path (default: paths.socket from the config)")
	flagSet.StringVar(&c.configPath, "config", "", "path to stamp.yaml (default $STAMP_CONFIG)")
}

func (c *connection) client() (*service.ServiceClient, error) {
	if c.socket != "" {
		return service.NewServiceClient(c.socket), nil
	}
	configPath := c.configPath
	if configPath == "" {
		configPath = os.Getenv("STAMP_CONFIG")
	}
	if configPath == "" {
		return nil, fmt.Errorf("no service socket: pass --socket, --config, or set STAMP_CONFIG")
	}
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return service.NewServiceClient(cfg.Paths.Socket), nil
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(args []string) error {
			fmt.Fprintf(cli.Stdout, "stamp %s\n", version.Full())
			return nil
		},
	}
}
