// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragcite/pkg/config"
	"ragcite/pkg/ux"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session with the configured agent",
	Long: `Opens a streaming chat session. The agent's answers arrive as a live
stream; citation markers resolve to numbered source badges and generated
HTML visualizations are validated before display.

Settings come from the settings file (see --settings), overridden by
RAGCITE_* environment variables and the --api-url/--agent-id/--api-key
flags. The settings file is watched while the session runs; edits restart
the session with the new configuration.`,
	RunE: runChatCommand,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChatCommand(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	runner := NewAgentChatRunner(AgentChatRunnerConfig{Settings: settings})
	defer func() {
		if closeErr := runner.Close(); closeErr != nil {
			ux.Warning(closeErr.Error())
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	watcher, watchErr := config.NewWatcher(settingsPath, func(updated config.Settings, loadErr error) {
		if loadErr != nil {
			runner.Invalidate(loadErr)
			return
		}
		if reconfErr := runner.Reconfigure(ctx, updated); reconfErr != nil {
			runner.Invalidate(reconfErr)
		}
	})
	if watchErr != nil {
		// Not fatal; the session just will not pick up file edits.
		ux.Warning("settings file watch unavailable: " + watchErr.Error())
	} else {
		watcher.Start(ctx)
	}

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// loadSettings merges the settings file, environment, and flags. Flags
// win over environment, environment over file.
func loadSettings() (config.Settings, error) {
	settings, err := config.Read(settingsPath)
	if err != nil {
		return config.Settings{}, err
	}

	if flagAPIURL != "" {
		settings.APIURL = flagAPIURL
	}
	if flagAgentID != "" {
		settings.AgentID = flagAgentID
	}
	if flagAPIKey != "" {
		settings.APIKey = flagAPIKey
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf(
			"%w\nConfigure %s, set %s/%s/%s, or pass --api-url/--agent-id/--api-key",
			err, settingsPath, config.EnvAPIURL, config.EnvAgentID, config.EnvAPIKey)
	}
	return settings, nil
}

// askCmd sends a single question and renders the final answer, for
// scripting and quick checks.
var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAskCommand,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAskCommand(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}

	question := ""
	for i, arg := range args {
		if i > 0 {
			question += " "
		}
		question += arg
	}

	runner := NewAgentChatRunner(AgentChatRunnerConfig{
		Settings:    settings,
		Personality: ux.GetLevel(),
		Input:       NewMockInputReader([]string{question, "exit"}),
	})
	defer func() {
		if closeErr := runner.Close(); closeErr != nil {
			ux.Warning(closeErr.Error())
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	return runner.Run(ctx)
}
