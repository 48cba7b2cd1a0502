// Package cache stores verification results keyed by a digest of every input
// the kernel sees. Verification is deterministic, so a hit is exactly the
// result a fresh run would produce.
package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

// Cache is a result store.
type Cache interface {
	Get(ctx context.Context, key string) (diag.Result, bool, error)
	Set(ctx context.Context, key string, res diag.Result) error
}

// KeyInput is everything that determines a verification result.
type KeyInput struct {
	Task          string
	Identity      certificate.IdentityContext
	Certificate   any // *certificate.Certificate or raw JSON decoded to any
	PolicyDigest  string
	OpsVersion    string
	KernelProfile string // digest of the kernel options in force
}

// Key returns the canonical digest of in.
func Key(in KeyInput) (string, error) {
	key, err := canonicalize.CanonicalHash(map[string]any{
		"task":           in.Task,
		"ctx":            in.Identity,
		"certificate":    in.Certificate,
		"policy_digest":  in.PolicyDigest,
		"ops_version":    in.OpsVersion,
		"kernel_profile": in.KernelProfile,
	})
	if err != nil {
		return "", fmt.Errorf("cache: key: %w", err)
	}
	return key, nil
}

// Memory is a bounded in-process cache. The least recently used entry is
// evicted first.
type Memory struct {
	entries *lru.Cache[string, diag.Result]
}

// NewMemory creates a cache holding at most max results (max <= 0 means 1024).
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = 1024
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, diag.Result](max)
	return &Memory{entries: entries}
}

func (m *Memory) Get(_ context.Context, key string) (diag.Result, bool, error) {
	res, ok := m.entries.Get(key)
	return res, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, res diag.Result) error {
	m.entries.Add(key, res)
	return nil
}

// Len returns the number of cached results.
func (m *Memory) Len() int {
	return m.entries.Len()
}
