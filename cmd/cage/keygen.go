// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/padlokk/cage/audit"
	"github.com/padlokk/cage/keygen"
)

func keygenCmd() *cobra.Command {
	var (
		output         string
		force          bool
		recipientsOnly string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an age identity via age-keygen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			format := audit.Text
			if jsonFlag {
				format = audit.JSON
			}
			sink, err := audit.New(cfg.AuditLogPath, format)
			if err != nil {
				return err
			}
			defer sink.Close()

			req := &keygen.Request{OutputPath: output, Force: force}
			if recipientsOnly != "" {
				req.RecipientsOnly = true
				req.InputPath = recipientsOnly
			}
			summary, err := keygen.NewService(cfg.KeygenBinary, sink).Generate(req)
			if err != nil {
				return err
			}
			if summary.PublicRecipient != "" {
				fmt.Printf("Public key: %s\n", summary.PublicRecipient)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the identity to `PATH`")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity file")
	cmd.Flags().StringVarP(&recipientsOnly, "recipients-only", "y", "", "print the recipient for the identity at `PATH`")
	return cmd
}
