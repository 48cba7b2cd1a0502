package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/certkernel/pkg/cache"
	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/certify"
	"github.com/Mindburn-Labs/certkernel/pkg/config"
	"github.com/Mindburn-Labs/certkernel/pkg/observability"
	"github.com/Mindburn-Labs/certkernel/pkg/policyloader"
	"github.com/Mindburn-Labs/certkernel/pkg/replay"
	"github.com/Mindburn-Labs/certkernel/pkg/store"
	"github.com/Mindburn-Labs/certkernel/pkg/verifier"
)

type verifyFlags struct {
	certPath string
	task     string
	taskFile string
	ctxPath  string
	policy   string
	profile  string
	db       string
	jsonOut  bool
}

func newVerifyCmd(cfg *config.Config) *cobra.Command {
	f := &verifyFlags{}
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a certificate and print its diagnostics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(cmd.Context(), cmd.OutOrStdout(), cfg, f)
		},
	}

	cmd.Flags().StringVar(&f.certPath, "cert", "", "Path to certificate JSON (REQUIRED, - for stdin)")
	cmd.Flags().StringVar(&f.task, "task", "", "Authoritative task text")
	cmd.Flags().StringVar(&f.taskFile, "task-file", "", "Read the task text from a file")
	cmd.Flags().StringVar(&f.ctxPath, "ctx", "", "Path to identity context JSON")
	cmd.Flags().StringVar(&f.policy, "policy", cfg.PolicySource, "Policy source (path, file://, s3://, gs://)")
	cmd.Flags().StringVar(&f.profile, "profile", cfg.ProfilePath, "Kernel profile YAML")
	cmd.Flags().StringVar(&f.db, "db", cfg.DatabaseURL, "Receipt database (sqlite path or postgres:// DSN)")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "Output the result as JSON")
	_ = cmd.MarkFlagRequired("cert")
	return cmd
}

func runVerify(ctx context.Context, stdout io.Writer, cfg *config.Config, f *verifyFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if f.policy == "" {
		return fmt.Errorf("--policy or CERTKERNEL_POLICY is required")
	}

	raw, err := readInput(f.certPath)
	if err != nil {
		return err
	}
	task, err := taskText(f)
	if err != nil {
		return err
	}
	idc, err := identity(f.ctxPath)
	if err != nil {
		return err
	}

	src, err := policyloader.ParseSource(ctx, f.policy, policyloader.SourceOptions{
		S3: policyloader.S3Config{Endpoint: cfg.S3Endpoint},
	})
	if err != nil {
		return err
	}
	handle, err := policyloader.NewHandle(ctx, src)
	if err != nil {
		return err
	}
	ops, err := replay.DefaultRegistry()
	if err != nil {
		return err
	}

	kernelOpts := []verifier.Option{verifier.WithParallelChecks(cfg.ParallelCheck)}
	var svcOpts []certify.Option
	if f.profile != "" {
		profile, err := config.LoadProfile(f.profile)
		if err != nil {
			return err
		}
		opts, err := profile.Options()
		if err != nil {
			return err
		}
		kernelOpts = append(kernelOpts, opts...)
		digest, err := profile.Digest()
		if err != nil {
			return err
		}
		svcOpts = append(svcOpts, certify.WithProfileDigest(digest))
	}

	closers, extra, err := infrastructure(ctx, cfg, f.db)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()
	if err != nil {
		return err
	}
	svcOpts = append(svcOpts, extra...)

	svc := certify.New(verifier.New(kernelOpts...), handle, ops, svcOpts...)
	out, err := svc.Certify(ctx, certify.Request{Task: task, Identity: idc, Certificate: raw})
	if err != nil {
		return err
	}

	if f.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printOutcome(stdout, out)
	}

	if !out.Result.OK {
		return errVerificationFailed
	}
	return nil
}

// infrastructure wires the optional cache, receipt store and telemetry.
func infrastructure(ctx context.Context, cfg *config.Config, dbURL string) ([]func(), []certify.Option, error) {
	var (
		closers []func()
		opts    []certify.Option
	)

	if cfg.RedisAddr != "" {
		rc := cache.NewRedis(cfg.RedisAddr, "", 0, 24*time.Hour)
		closers = append(closers, func() { _ = rc.Close() })
		opts = append(opts, certify.WithCache(rc))
	} else {
		opts = append(opts, certify.WithCache(cache.NewMemory(cfg.CacheSize)))
	}

	switch {
	case dbURL == "":
	case strings.HasPrefix(dbURL, "postgres://") || strings.HasPrefix(dbURL, "postgresql://"):
		db, err := store.OpenPostgres(dbURL)
		if err != nil {
			return closers, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		pg := store.NewPostgresReceiptStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return closers, nil, err
		}
		opts = append(opts, certify.WithReceipts(pg))
	default:
		db, err := store.OpenSQLite(dbURL)
		if err != nil {
			return closers, nil, err
		}
		closers = append(closers, func() { _ = db.Close() })
		sq, err := store.NewSQLiteReceiptStore(ctx, db)
		if err != nil {
			return closers, nil, err
		}
		opts = append(opts, certify.WithReceipts(sq))
	}

	if cfg.OTLPEndpoint != "" {
		oc := observability.DefaultConfig()
		oc.Enabled = true
		oc.OTLPEndpoint = cfg.OTLPEndpoint
		oc.Insecure = cfg.OTLPInsecure
		p, err := observability.New(ctx, oc)
		if err != nil {
			return closers, nil, err
		}
		closers = append(closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = p.Shutdown(sctx)
		})
		opts = append(opts, certify.WithObservability(p))
	}

	return closers, opts, nil
}

func printOutcome(w io.Writer, out *certify.Outcome) {
	status := "PASS"
	if !out.Result.OK {
		status = "FAIL"
	}
	_, _ = fmt.Fprintf(w, "%s certificate=%s policy=%s diagnostics=%d", status, out.CertificateHash, out.PolicyVersion, len(out.Result.Diagnostics))
	if out.Cached {
		_, _ = fmt.Fprint(w, " (cached)")
	}
	if out.ReceiptID != "" {
		_, _ = fmt.Fprintf(w, " receipt=%s", out.ReceiptID)
	}
	_, _ = fmt.Fprintln(w)

	for _, d := range out.Result.Diagnostics {
		if d.Path != "" {
			_, _ = fmt.Fprintf(w, "  %-22s %s: %s\n", d.Code, d.Path, d.Message)
		} else {
			_, _ = fmt.Fprintf(w, "  %-22s %s\n", d.Code, d.Message)
		}
	}
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func taskText(f *verifyFlags) (string, error) {
	if f.taskFile == "" {
		return f.task, nil
	}
	data, err := os.ReadFile(f.taskFile)
	if err != nil {
		return "", fmt.Errorf("read task: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func identity(path string) (certificate.IdentityContext, error) {
	var idc certificate.IdentityContext
	if path == "" {
		slog.Warn("no identity context given; verifying with an empty ctx")
		return idc, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return idc, fmt.Errorf("read ctx: %w", err)
	}
	if err := json.Unmarshal(data, &idc); err != nil {
		return idc, fmt.Errorf("parse ctx: %w", err)
	}
	return idc, nil
}
