// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// The cage command automates the age encryption tool for batch use.
package main

import (
	"bufio"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/padlokk/cage"
	"github.com/padlokk/cage/internal/logger"
	"github.com/padlokk/cage/progress"
)

// Version can be set at link time to override debug.BuildInfo.Main.Version,
// which is "(devel)" when building from within the module.
var Version string

var (
	configFlag   string
	auditLogFlag string
	jsonFlag     bool
	quietFlag    bool
)

func main() {
	root := &cobra.Command{
		Use:           "cage",
		Short:         "Age encryption automation",
		Long:          "Cage drives the age file-encryption tool non-interactively,\nsynthesizing the terminal age insists on and batching operations\nacross files and directories.",
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to cage.toml (default $CAGE_CONFIG)")
	root.PersistentFlags().StringVar(&auditLogFlag, "audit-log", "", "append audit events to `FILE`")
	root.PersistentFlags().BoolVar(&jsonFlag, "json", false, "emit audit events as JSON lines")
	root.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress the progress bar")

	root.AddCommand(lockCmd(), unlockCmd(), statusCmd(), keygenCmd(), initCmd())

	if err := root.Execute(); err != nil {
		logger.Global.Errorf("%v", err)
	}
}

func version() string {
	if Version != "" {
		return Version
	}
	if buildInfo, ok := debug.ReadBuildInfo(); ok {
		return buildInfo.Main.Version
	}
	return "(unknown)"
}

// loadConfig resolves the config snapshot for a run: the file named by
// --config or CAGE_CONFIG when present, else the XDG default cage.toml
// when it exists, defaults otherwise, with CLI flags layered on top.
func loadConfig() (*cage.Config, error) {
	path := configFlag
	if path == "" {
		if p := os.Getenv("CAGE_CONFIG"); p != "" {
			path = p
		} else if _, err := os.Stat(cage.ConfigPath()); err == nil {
			path = cage.ConfigPath()
		}
	}
	var cfg *cage.Config
	if path != "" {
		var err error
		cfg, err = cage.LoadConfig(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = cage.DefaultConfig()
	}
	if auditLogFlag != "" {
		cfg.AuditLogPath = auditLogFlag
	}
	if jsonFlag {
		cfg.Telemetry = cage.TelemetryJSON
	}
	return cfg, nil
}

func newManager() (*cage.CageManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	m, err := cage.NewDefaultManager(cfg)
	if err != nil {
		return nil, err
	}
	if !quietFlag && term.IsTerminal(int(os.Stderr.Fd())) {
		m.SetReporter(progress.NewTerminalReporter(os.Stderr))
	}
	return m, nil
}

// readPassphrase reads a secret from the terminal without echo, or from
// standard input when it is not a terminal (batch callers pipe it in).
func readPassphrase(prompt string) (cage.Passphrase, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s", prompt)
		defer fmt.Fprintln(os.Stderr)
		pass, err := term.ReadPassword(fd)
		if err != nil {
			return nil, fmt.Errorf("could not read passphrase: %v", err)
		}
		return cage.Passphrase(pass), nil
	}
	r := bufio.NewReader(os.Stdin)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("could not read passphrase: %v", err)
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return cage.NewPassphrase(line), nil
}

// resolveIdentity builds the identity from flags, prompting when none
// was given. confirm adds the confirming prompt used before encryption.
func resolveIdentity(identityFile, sshKey string, confirm bool) (cage.Identity, error) {
	switch {
	case identityFile != "":
		return cage.IdentityFile(identityFile), nil
	case sshKey != "":
		return cage.SSHKey(sshKey), nil
	}
	pass, err := readPassphrase("Enter passphrase: ")
	if err != nil {
		return nil, err
	}
	if confirm && term.IsTerminal(int(os.Stdin.Fd())) {
		again, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return nil, err
		}
		if string(again) != string(pass) {
			return nil, fmt.Errorf("passphrases didn't match")
		}
		again.Zero()
	}
	return pass, nil
}

func reportResult(op string, res *cage.OperationResult) error {
	for _, f := range res.FailedFiles {
		logger.Global.Printf("%s failed: %s: %v", op, f.Path, f.Err)
	}
	for _, s := range res.SkippedFiles {
		logger.Global.Printf("skipped (no matching identity): %s", s)
	}
	fmt.Printf("%s: %d processed, %d failed, %d skipped in %dms\n",
		op, len(res.ProcessedFiles), len(res.FailedFiles), len(res.SkippedFiles), res.ExecutionTimeMs)
	if !res.Success {
		return fmt.Errorf("%s finished with failures", op)
	}
	return nil
}
