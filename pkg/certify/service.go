// Package certify is the orchestrator-facing facade over the verification
// kernel. It resolves the active policy, consults the result cache, runs the
// kernel, writes a receipt and records telemetry.
package certify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/certkernel/pkg/cache"
	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
	"github.com/Mindburn-Labs/certkernel/pkg/observability"
	"github.com/Mindburn-Labs/certkernel/pkg/policy"
	"github.com/Mindburn-Labs/certkernel/pkg/replay"
	"github.com/Mindburn-Labs/certkernel/pkg/store"
	"github.com/Mindburn-Labs/certkernel/pkg/verifier"
)

// PolicyProvider yields the program currently in force.
type PolicyProvider interface {
	Current() (*policy.Program, error)
}

// StaticPolicy serves a fixed program.
type StaticPolicy struct{ Program *policy.Program }

func (s StaticPolicy) Current() (*policy.Program, error) {
	if s.Program == nil {
		return nil, errors.New("certify: no policy program")
	}
	return s.Program, nil
}

// Request is one certificate submitted for verification.
type Request struct {
	Task        string
	Identity    certificate.IdentityContext
	Certificate json.RawMessage
}

// Outcome is the verification result plus its provenance.
type Outcome struct {
	Result          diag.Result `json:"result"`
	CertificateHash string      `json:"certificate_hash"`
	PolicyVersion   string      `json:"policy_version"`
	ReceiptID       string      `json:"receipt_id,omitempty"`
	Cached          bool        `json:"cached"`
}

// Service runs verifications. It is safe for concurrent use.
type Service struct {
	kernel        *verifier.Kernel
	policies      PolicyProvider
	ops           *replay.Registry
	cache         cache.Cache
	receipts      store.ReceiptStore
	obs           *observability.Provider
	profileDigest string
	logger        *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result caching.
func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithReceipts enables durable receipts.
func WithReceipts(r store.ReceiptStore) Option {
	return func(s *Service) { s.receipts = r }
}

// WithObservability records spans and metrics.
func WithObservability(p *observability.Provider) Option {
	return func(s *Service) { s.obs = p }
}

// WithProfileDigest folds the kernel profile into cache keys so that results
// computed under different kernel options never alias.
func WithProfileDigest(digest string) Option {
	return func(s *Service) { s.profileDigest = digest }
}

// New creates a service around a configured kernel.
func New(kernel *verifier.Kernel, policies PolicyProvider, ops *replay.Registry, opts ...Option) *Service {
	s := &Service{
		kernel:   kernel,
		policies: policies,
		ops:      ops,
		logger:   slog.Default().With("component", "certify"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Certify verifies req. Errors are reserved for infrastructure failures
// (no policy, receipt store down); certificate defects are diagnostics.
func (s *Service) Certify(ctx context.Context, req Request) (*Outcome, error) {
	p, err := s.policies.Current()
	if err != nil {
		return nil, fmt.Errorf("certify: policy: %w", err)
	}

	certHash, doc := certificateDigest(req.Certificate)
	out := &Outcome{CertificateHash: certHash, PolicyVersion: p.Version()}

	key, keyErr := cache.Key(cache.KeyInput{
		Task:          req.Task,
		Identity:      req.Identity,
		Certificate:   doc,
		PolicyDigest:  p.Digest(),
		OpsVersion:    s.ops.Version(),
		KernelProfile: s.profileDigest,
	})
	if keyErr != nil {
		s.logger.WarnContext(ctx, "cache key unavailable", "error", keyErr)
	}

	var done func(diag.Result)
	if s.obs != nil {
		ctx, done = s.obs.StartVerification(ctx)
	}

	if res, ok := s.lookup(ctx, key, keyErr == nil); ok {
		out.Result, out.Cached = res, true
	} else {
		out.Result = s.kernel.ValidateJSON(req.Task, req.Identity, req.Certificate, p, s.ops)
		s.remember(ctx, key, keyErr == nil, out.Result)
	}

	if done != nil {
		done(out.Result)
	}

	if s.receipts != nil {
		r := store.NewReceipt(certHash, key, p.Version(), p.Digest(), s.ops.Version(), out.Result)
		r.Cached = out.Cached
		if err := s.receipts.Save(ctx, r); err != nil {
			s.recordError(ctx, "store.save", err)
			return nil, fmt.Errorf("certify: save receipt: %w", err)
		}
		out.ReceiptID = r.ReceiptID
	}

	s.logger.InfoContext(ctx, "certificate verified",
		"certificate_hash", certHash,
		"policy_version", p.Version(),
		"ok", out.Result.OK,
		"diagnostics", len(out.Result.Diagnostics),
		"cached", out.Cached,
		"receipt_id", out.ReceiptID,
	)
	return out, nil
}

func (s *Service) lookup(ctx context.Context, key string, usable bool) (diag.Result, bool) {
	if s.cache == nil || !usable {
		return diag.Result{}, false
	}
	res, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "result cache read failed", "error", err)
		s.recordError(ctx, "cache.get", err)
		return diag.Result{}, false
	}
	if s.obs != nil {
		s.obs.RecordCacheLookup(ctx, ok)
	}
	return res, ok
}

func (s *Service) remember(ctx context.Context, key string, usable bool, res diag.Result) {
	if s.cache == nil || !usable {
		return
	}
	if err := s.cache.Set(ctx, key, res); err != nil {
		s.logger.WarnContext(ctx, "result cache write failed", "error", err)
		s.recordError(ctx, "cache.set", err)
	}
}

func (s *Service) recordError(ctx context.Context, op string, err error) {
	if s.obs != nil {
		s.obs.RecordError(ctx, op, err)
	}
}

// certificateDigest hashes the canonical form of the submitted JSON. Input
// that is not JSON is hashed as raw bytes and keyed by that hash.
func certificateDigest(raw json.RawMessage) (string, any) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err == nil {
		if h, err := canonicalize.CanonicalHash(doc); err == nil {
			return h, doc
		}
	}
	h := canonicalize.HashBytes(raw)
	return h, map[string]any{"raw_sha256": h}
}
