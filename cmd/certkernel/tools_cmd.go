package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/certkernel/pkg/config"
	"github.com/Mindburn-Labs/certkernel/pkg/policyloader"
	"github.com/Mindburn-Labs/certkernel/pkg/replay"
)

func newHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE",
		Short: "Print the canonical content hash of a JSON document (use for response_hash)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(args[0])
			if err != nil {
				return err
			}
			var doc any
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			h, err := canonicalize.CanonicalHash(doc)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", h, canonicalize.HashRule)
			return nil
		},
	}
}

func newPolicyCmd(cfg *config.Config) *cobra.Command {
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect compiled policy programs",
	}
	policyCmd.AddCommand(&cobra.Command{
		Use:   "digest [SOURCE]",
		Short: "Load a policy program and print its version, clause count and digest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uri := cfg.PolicySource
			if len(args) == 1 {
				uri = args[0]
			}
			src, err := policyloader.ParseSource(cmd.Context(), uri, policyloader.SourceOptions{
				S3: policyloader.S3Config{Endpoint: cfg.S3Endpoint},
			})
			if err != nil {
				return err
			}
			p, err := policyloader.Load(cmd.Context(), src)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "version=%s clauses=%d digest=%s\n", p.Version(), p.Len(), p.Digest())
			return nil
		},
	})
	return policyCmd
}

func newOpsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the replay operations of the built-in registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := replay.DefaultRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "registry %s\n", reg.Version())
			for _, name := range reg.Names() {
				op, _ := reg.Lookup(name)
				_, _ = fmt.Fprintf(out, "  %-24s %s\n", op.Name, op.Kind)
			}
			return nil
		},
	}
}
