package policyloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Mindburn-Labs/certkernel/pkg/policy"
)

// ErrNoProgram is returned by Handle.Current before anything was loaded.
var ErrNoProgram = errors.New("policyloader: no program loaded")

// Load fetches and compiles a program from src.
func Load(ctx context.Context, src Source) (*policy.Program, error) {
	data, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	p, err := policy.Load(data)
	if err != nil {
		return nil, fmt.Errorf("policyloader: %s: %w", src, err)
	}
	return p, nil
}

// Handle holds the current program. Readers always see a complete program;
// a reload that fails leaves the previous one in place.
type Handle struct {
	src     Source
	current atomic.Pointer[policy.Program]
	logger  *slog.Logger
}

// NewHandle loads src once and returns a handle serving it.
func NewHandle(ctx context.Context, src Source) (*Handle, error) {
	h := &Handle{src: src, logger: slog.Default().With("component", "policyloader")}
	if err := h.Reload(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Current returns the active program.
func (h *Handle) Current() (*policy.Program, error) {
	p := h.current.Load()
	if p == nil {
		return nil, ErrNoProgram
	}
	return p, nil
}

// Reload fetches the source again and swaps the program in atomically.
func (h *Handle) Reload(ctx context.Context) error {
	p, err := Load(ctx, h.src)
	if err != nil {
		h.logger.WarnContext(ctx, "policy reload failed, keeping previous program",
			"source", h.src.String(),
			"error", err,
		)
		return err
	}

	prev := h.current.Swap(p)
	attrs := []any{
		"source", h.src.String(),
		"policy_version", p.Version(),
		"policy_digest", p.Digest(),
		"clauses", p.Len(),
	}
	if prev != nil {
		attrs = append(attrs, "previous_digest", prev.Digest())
	}
	h.logger.InfoContext(ctx, "policy program loaded", attrs...)
	return nil
}
