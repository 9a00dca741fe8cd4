// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/padlokk/cage"
)

const configTemplate = `# Cage configuration generated by cage init

[encryption]
format = "binary"
max_passphrase_length = 1024

[streaming]
strategy = "tempfile"

[telemetry]
format = "text"

[backup]
directory = %q
`

// initCmd lays out the XDG directories and writes a starter cage.toml.
// It is idempotent: an existing config is left alone unless --force.
func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the cage config and data directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := configFlag
			if configPath == "" {
				configPath = cage.ConfigPath()
			}
			dataDir := filepath.Join(xdgDir("XDG_DATA_HOME", ".local/share"), "cage")
			cacheDir := filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), "cage")
			backupDir := filepath.Join(dataDir, "backups")

			for _, dir := range []string{filepath.Dir(configPath), backupDir, cacheDir} {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("create %s: %v", dir, err)
				}
			}

			if _, err := os.Stat(configPath); err == nil && !force {
				fmt.Printf("config exists: %s\n", configPath)
				return nil
			}
			content := fmt.Sprintf(configTemplate, backupDir)
			if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
				return fmt.Errorf("write %s: %v", configPath, err)
			}
			fmt.Printf("wrote %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "regenerate an existing config file")
	return cmd
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}
