// Command certkernel verifies response certificates against a compiled policy
// program.
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/certkernel/pkg/config"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitRuntime = 2
)

// errVerificationFailed marks a completed run whose certificate was rejected.
var errVerificationFailed = errors.New("verification failed")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	root := newRootCmd(cfg)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errVerificationFailed):
		return exitFailed
	default:
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitRuntime
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "certkernel",
		Short:         "Deterministic verification of response certificates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newVerifyCmd(cfg),
		newHashCmd(),
		newPolicyCmd(cfg),
		newOpsCmd(),
	)
	return root
}
