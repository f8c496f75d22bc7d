// Copyright (C) 2025 Ragcite Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE file for the full license text.

// Package main is the ragcite CLI: a streaming chat client for RAG agents
// with citation resolution and sandboxed visualization handling.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"ragcite/pkg/logging"
	"ragcite/pkg/ux"
)

var (
	rootCmd = &cobra.Command{
		Use:   "ragcite",
		Short: "Chat with a RAG agent from the terminal",
		Long: `ragcite streams answers from a remote RAG agent, resolves inline
citation markers against the returned source chunks, and validates
generated HTML visualizations before deciding how to present them.`,
	}

	settingsPath string
	flagAPIURL   string
	flagAgentID  string
	flagAPIKey   string
	flagLevel    string
	flagLogLevel string
	flagLogDir   string

	appLogger *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", defaultSettingsPath(), "path to the settings YAML file")
	rootCmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "agent API base URL (overrides settings file)")
	rootCmd.PersistentFlags().StringVar(&flagAgentID, "agent-id", "", "agent identifier (overrides settings file)")
	rootCmd.PersistentFlags().StringVar(&flagAPIKey, "api-key", "", "API key (overrides settings file)")
	rootCmd.PersistentFlags().StringVar(&flagLevel, "personality", "", "output style: full, minimal, machine")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogDir, "log-dir", "", "directory for JSON log files (disabled when empty)")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		ux.InitPersonality()
		if flagLevel != "" {
			ux.SetLevel(ux.ParseLevel(flagLevel))
		}

		appLogger = logging.New(logging.Config{
			Level:  logging.ParseLevel(flagLogLevel),
			LogDir: flagLogDir,
			// The chat UI owns the terminal; log noise goes to the file
			// only unless debugging.
			Quiet: flagLogDir != "" && flagLogLevel != "debug",
		})
		appLogger.Install()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if appLogger != nil {
			if err := appLogger.Close(); err != nil {
				ux.Warning(err.Error())
			}
		}
	}
}

// defaultSettingsPath is ~/.ragcite/settings.yaml, falling back to a
// relative path when the home directory cannot be resolved.
func defaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "settings.yaml"
	}
	return home + "/.ragcite/settings.yaml"
}
