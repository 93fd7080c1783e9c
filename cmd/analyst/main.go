// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/signalk-analyst/pkg/logging"
	"github.com/AleutianAI/signalk-analyst/pkg/ux"
	"github.com/AleutianAI/signalk-analyst/services/analyst/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		ux.NewPrinter(os.Stderr).Error(err)
		os.Exit(1)
	}
}

// cliState is shared by every subcommand through the root command.
type cliState struct {
	configPath string
	envFile    string
	serverURL  string
	jsonOutput bool

	cfg    config.Config
	logger *logging.Logger
	stdout io.Writer
	stderr io.Writer
}

// newRootCmd builds the command tree writing to stdout and stderr.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	state := &cliState{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "analyst",
		Short: "Ask questions about a vessel's Signal K history",
		Long: `analyst runs an agent that answers questions about recorded Signal K data.
It can serve the HTTP API, ask one-off questions in-process, or talk to a
running server for follow-ups and answer history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if state.logger != nil {
				state.logger.Close()
			}
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&state.configPath, "config", "c", os.Getenv("ANALYST_CONFIG"), "path to the YAML config file")
	flags.StringVar(&state.envFile, "env-file", ".env", "dotenv file loaded before the config")
	flags.StringVar(&state.serverURL, "server", os.Getenv("ANALYST_SERVER"), "base URL of a running analyst server")
	flags.BoolVar(&state.jsonOutput, "json", false, "print raw JSON instead of formatted output")

	root.AddCommand(
		newServeCmd(state),
		newAskCmd(state),
		newFollowUpCmd(state),
		newHistoryCmd(state),
		newConfigCmd(state),
	)
	return root
}

// setup loads the dotenv file, the configuration and the logger. The
// config subcommands skip configuration loading so a broken file can be
// replaced.
func (s *cliState) setup(cmd *cobra.Command) error {
	if s.envFile != "" {
		if err := godotenv.Load(s.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", s.envFile, err)
		}
	}
	if cmd.Parent() != nil && cmd.Parent().Name() == "config" && cmd.Name() == "init" {
		return nil
	}

	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}
	s.cfg = cfg

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	s.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: cfg.Tracing.ServiceName,
		JSON:    cfg.Logging.JSON,
		Output:  s.stderr,
	})
	slog.SetDefault(s.logger.Slog())
	return nil
}

// server returns the base URL of the API server: --server, or the
// configured listen address on localhost.
func (s *cliState) server() string {
	if s.serverURL != "" {
		return strings.TrimRight(s.serverURL, "/")
	}
	addr := s.cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func (s *cliState) printer() *ux.Printer {
	return ux.NewPrinter(s.stdout)
}
