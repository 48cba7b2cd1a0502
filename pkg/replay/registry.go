// Package replay recomputes derived facts from trace and context data and
// checks them against the values a proposer declared.
//
// Determinism contract:
//   - Facts are replayed in list order, in a single pass.
//   - Ops are pure: no I/O, no randomness, no wall-clock reads.
//   - The recomputed value, never the declared one, is carried forward.
package replay

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/condition"
)

// OpContext is the read-only view an op may consult besides its inputs.
type OpContext struct {
	Identity  certificate.IdentityContext
	Response  certificate.Response
	Calls     map[string]certificate.CallRecord
	Artifacts []certificate.Artifact
}

// NewOpContext indexes the trace calls by id. When ids repeat the first
// record wins, matching ExecutionTrace.Call.
func NewOpContext(idc certificate.IdentityContext, resp certificate.Response, trace certificate.ExecutionTrace) *OpContext {
	calls := make(map[string]certificate.CallRecord, len(trace.Calls))
	for _, c := range trace.Calls {
		if _, seen := calls[c.ID]; !seen {
			calls[c.ID] = c
		}
	}
	return &OpContext{
		Identity:  idc,
		Response:  resp,
		Calls:     calls,
		Artifacts: trace.Artifacts,
	}
}

// OpFunc recomputes a single fact. inputs holds the accepted outputs of the
// fact's inputs, in declaration order.
type OpFunc func(oc *OpContext, env condition.Env, inputs []any, fact certificate.DerivedFact) (any, error)

// Op binds a name to the fact kind it serves and its implementation.
type Op struct {
	Name string
	Kind certificate.FactKind
	Fn   OpFunc
}

// Registry is a closed, versioned set of ops. It is read-only once built.
type Registry struct {
	version string
	ops     map[string]Op
}

var (
	ErrDuplicateOp = errors.New("replay: duplicate op")
	ErrInvalidOp   = errors.New("replay: invalid op")
)

// NewRegistry validates every op eagerly: names must be unique and non-empty,
// kinds must be one of the five fact kinds and every op needs a function.
func NewRegistry(version string, ops ...Op) (*Registry, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: registry version is required", ErrInvalidOp)
	}
	r := &Registry{version: version, ops: make(map[string]Op, len(ops))}
	for _, op := range ops {
		switch {
		case op.Name == "":
			return nil, fmt.Errorf("%w: empty name", ErrInvalidOp)
		case op.Fn == nil:
			return nil, fmt.Errorf("%w: %s has no function", ErrInvalidOp, op.Name)
		case !validKind(op.Kind):
			return nil, fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidOp, op.Name, op.Kind)
		}
		if _, dup := r.ops[op.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOp, op.Name)
		}
		r.ops[op.Name] = op
	}
	return r, nil
}

// Version names the registry revision, e.g. "ops/v1".
func (r *Registry) Version() string { return r.version }

// Lookup returns the op registered under name.
func (r *Registry) Lookup(name string) (Op, bool) {
	op, ok := r.ops[name]
	return op, ok
}

// Names returns the registered op names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ops))
	for n := range r.ops {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Ops returns the registered ops sorted by name.
func (r *Registry) Ops() []Op {
	out := make([]Op, 0, len(r.ops))
	for _, n := range r.Names() {
		out = append(out, r.ops[n])
	}
	return out
}

func validKind(k certificate.FactKind) bool {
	switch k {
	case certificate.FactSelect, certificate.FactNormalize, certificate.FactClassify,
		certificate.FactJoin, certificate.FactCompute:
		return true
	}
	return false
}
