// Package policy holds compiled policy programs: versioned, immutable sets of
// clauses with optional applicability guards.
//
// Programs are compiled offline from a trusted policy document and loaded once
// per process. A *Program is read-only after Load and safe to share between
// goroutines; hot reload means building a new Program and swapping the handle.
package policy

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/certkernel/pkg/condition"
)

// ClauseKind classifies a clause.
type ClauseKind string

const (
	KindInvariant ClauseKind = "invariant" // contract-level invariants
	KindRequire   ClauseKind = "require"   // must hold
	KindForbid    ClauseKind = "forbid"    // must NOT happen
	KindRule      ClauseKind = "rule"      // derive / set
)

// Valid reports whether k is one of the four clause kinds.
func (k ClauseKind) Valid() bool {
	switch k {
	case KindInvariant, KindRequire, KindForbid, KindRule:
		return true
	}
	return false
}

// Requirement is a condition plus the message reported when it is violated.
type Requirement struct {
	Condition condition.Condition `json:"condition"`
	Message   string              `json:"message"`
}

// Clause is a single compiled rule.
type Clause struct {
	ID      string              `json:"id"`
	Kind    ClauseKind          `json:"kind"`
	When    condition.Condition `json:"when,omitempty"`
	Require []Requirement       `json:"require"`
	Forbid  []Requirement       `json:"forbid"`
}

// Program is an immutable, versioned collection of clauses keyed by id.
type Program struct {
	version string
	clauses []Clause
	byID    map[string]int
	digest  string
}

var (
	// ErrDuplicateClause is returned when two clauses share an id.
	ErrDuplicateClause = errors.New("policy: duplicate clause id")
	// ErrInvalidProgram wraps every other structural problem.
	ErrInvalidProgram = errors.New("policy: invalid program")
)

// New validates clauses and builds an immutable program. The version must be
// a semantic version.
func New(version string, clauses []Clause) (*Program, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return nil, fmt.Errorf("%w: version %q: %v", ErrInvalidProgram, version, err)
	}

	p := &Program{
		version: version,
		clauses: make([]Clause, len(clauses)),
		byID:    make(map[string]int, len(clauses)),
	}
	for i, c := range clauses {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: clause %d has no id", ErrInvalidProgram, i)
		}
		if !c.Kind.Valid() {
			return nil, fmt.Errorf("%w: clause %s has unknown kind %q", ErrInvalidProgram, c.ID, c.Kind)
		}
		if _, dup := p.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateClause, c.ID)
		}
		for j, r := range c.Require {
			if r.Condition == nil {
				return nil, fmt.Errorf("%w: clause %s require[%d] has no condition", ErrInvalidProgram, c.ID, j)
			}
		}
		for j, r := range c.Forbid {
			if r.Condition == nil {
				return nil, fmt.Errorf("%w: clause %s forbid[%d] has no condition", ErrInvalidProgram, c.ID, j)
			}
		}
		p.clauses[i] = cloneClause(c)
		p.byID[c.ID] = i
	}

	digest, err := canonicalize.CanonicalHash(map[string]any{
		"version": p.version,
		"clauses": p.clauses,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: digest: %v", ErrInvalidProgram, err)
	}
	p.digest = digest

	return p, nil
}

// Version returns the program version certificates must echo as pc_version.
func (p *Program) Version() string { return p.version }

// Digest returns the canonical content hash of the program.
func (p *Program) Digest() string { return p.digest }

// Len returns the number of clauses.
func (p *Program) Len() int { return len(p.clauses) }

// ClauseByID looks a clause up by id.
func (p *Program) ClauseByID(id string) (Clause, bool) {
	i, ok := p.byID[id]
	if !ok {
		return Clause{}, false
	}
	return p.clauses[i], true
}

// Clauses returns the clauses in source order.
func (p *Program) Clauses() []Clause {
	out := make([]Clause, len(p.clauses))
	copy(out, p.clauses)
	return out
}

// IsApplicable reports whether a clause applies under env: it has no guard,
// or its guard evaluates true.
func IsApplicable(env condition.Env, c Clause) bool {
	return c.When == nil || condition.Evaluate(env, c.When)
}

func cloneClause(c Clause) Clause {
	out := c
	out.Require = append([]Requirement(nil), c.Require...)
	out.Forbid = append([]Requirement(nil), c.Forbid...)
	if out.Require == nil {
		out.Require = []Requirement{}
	}
	if out.Forbid == nil {
		out.Forbid = []Requirement{}
	}
	return out
}
