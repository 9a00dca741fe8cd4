// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/padlokk/cage"
)

func lockCmd() *cobra.Command {
	var (
		recursive    bool
		pattern      string
		armor        bool
		backup       bool
		keep         bool
		identityFile string
		sshKey       string
		recipients   []string
		sshRecips    []string
		recipsFile   string
	)
	cmd := &cobra.Command{
		Use:   "lock PATH",
		Short: "Encrypt a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			req := cage.NewLockRequest(args[0], nil)
			req.Recursive = recursive
			req.Pattern = pattern
			req.Backup = backup
			req.InPlace = !keep
			if armor {
				req.Format = cage.ASCIIArmor
			}
			if len(recipients) > 0 {
				req.Recipients = append(req.Recipients, cage.AgeRecipients(recipients))
			}
			if len(sshRecips) > 0 {
				req.Recipients = append(req.Recipients, cage.SSHRecipients(sshRecips))
			}
			if recipsFile != "" {
				req.Recipients = append(req.Recipients, cage.RecipientsFile(recipsFile))
			}
			if len(req.Recipients) == 0 {
				id, err := resolveIdentity(identityFile, sshKey, true)
				if err != nil {
					return err
				}
				req.Identity = id
				if p, ok := id.(cage.Passphrase); ok {
					defer p.Zero()
				}
			}

			res, err := m.Lock(req)
			if err != nil {
				return err
			}
			return reportResult("lock", res)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "walk directories recursively")
	cmd.Flags().StringVar(&pattern, "pattern", "", "only lock files matching `GLOB`")
	cmd.Flags().BoolVarP(&armor, "armor", "a", false, "produce PEM encoded artifacts")
	cmd.Flags().BoolVar(&backup, "backup", false, "write a .bak copy before encrypting")
	cmd.Flags().BoolVar(&keep, "keep", false, "keep the original next to the artifact")
	cmd.Flags().StringVarP(&identityFile, "identity", "i", "", "encrypt to the identity file at `PATH`")
	cmd.Flags().StringVar(&sshKey, "ssh-identity", "", "encrypt to the SSH key at `PATH`")
	cmd.Flags().StringArrayVar(&recipients, "recipient", nil, "encrypt to `RECIPIENT` (repeatable)")
	cmd.Flags().StringArrayVar(&sshRecips, "ssh-recipient", nil, "encrypt to the SSH public key `LINE` (repeatable)")
	cmd.Flags().StringVarP(&recipsFile, "recipients-file", "R", "", "encrypt to recipients listed at `PATH`")
	return cmd
}

func unlockCmd() *cobra.Command {
	var (
		recursive    bool
		pattern      string
		selective    bool
		preserve     bool
		identityFile string
		sshKey       string
	)
	cmd := &cobra.Command{
		Use:   "unlock PATH",
		Short: "Decrypt cage artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			id, err := resolveIdentity(identityFile, sshKey, false)
			if err != nil {
				return err
			}
			req := cage.NewUnlockRequest(args[0], id)
			req.Recursive = recursive
			req.Pattern = pattern
			req.Selective = selective
			req.PreserveEncrypted = preserve
			if p, ok := id.(cage.Passphrase); ok {
				defer p.Zero()
			}

			res, err := m.Unlock(req)
			if err != nil {
				return err
			}
			return reportResult("unlock", res)
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "walk directories recursively")
	cmd.Flags().StringVar(&pattern, "pattern", "", "only unlock files matching `GLOB`")
	cmd.Flags().BoolVar(&selective, "selective", false, "skip files this identity cannot open")
	cmd.Flags().BoolVar(&preserve, "preserve", false, "keep the encrypted artifact after unlocking")
	cmd.Flags().StringVarP(&identityFile, "identity", "i", "", "use the identity file at `PATH`")
	cmd.Flags().StringVar(&sshKey, "ssh-identity", "", "use the SSH private key at `PATH`")
	return cmd
}

func statusCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "status PATH",
		Short: "Report the encryption state of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			defer m.Close()

			var status *cage.RepositoryStatus
			if verify {
				status, err = m.Verify(args[0])
			} else {
				status, err = m.Status(args[0])
			}
			if err != nil {
				return err
			}
			fmt.Printf("total: %d\nencrypted: %d\nunencrypted: %d\nfailed: %d\n",
				status.Total, status.Encrypted, status.Unencrypted, len(status.Failed))
			for _, f := range status.Failed {
				fmt.Printf("  bad: %s\n", f)
			}
			if len(status.Failed) > 0 {
				return fmt.Errorf("%d files failed verification", len(status.Failed))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "check that artifacts still parse as age files")
	return cmd
}
