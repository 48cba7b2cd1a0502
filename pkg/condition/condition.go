// Package condition implements the boolean condition language used by policy
// clauses and applicability guards.
//
// A Condition is a closed sum type: every variant implements the unexported
// evaluate method, so the evaluator is total by construction. Evaluation never
// fails; paths that do not resolve make eq/ne/in/not_in false and present false.
package condition

import (
	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
)

// Condition is a boolean expression over an Env.
type Condition interface {
	evaluate(env Env) bool
	// Kind returns the wire tag of the variant ("eq", "any", ...).
	Kind() string
}

// Eq holds when the value at Path is structurally equal to Value.
type Eq struct {
	Path  string
	Value any
}

// Ne holds when the value at Path exists and differs from Value.
type Ne struct {
	Path  string
	Value any
}

// Present holds when Path resolves to any value, including null, false, 0 or "".
type Present struct {
	Path string
}

// In holds when the value at Path equals one member of Set.
type In struct {
	Path string
	Set  []any
}

// NotIn holds when the value at Path exists and equals no member of Set.
type NotIn struct {
	Path string
	Set  []any
}

// Any holds when at least one child holds. An empty Any is false.
type Any struct {
	Conditions []Condition
}

// All holds when every child holds. An empty All is true.
type All struct {
	Conditions []Condition
}

// Not negates its child. A nil child negates to true.
type Not struct {
	Condition Condition
}

func (Eq) Kind() string      { return "eq" }
func (Ne) Kind() string      { return "ne" }
func (Present) Kind() string { return "present" }
func (In) Kind() string      { return "in" }
func (NotIn) Kind() string   { return "not_in" }
func (Any) Kind() string     { return "any" }
func (All) Kind() string     { return "all" }
func (Not) Kind() string     { return "not" }

// Evaluate evaluates c under env. A nil condition is false.
func Evaluate(env Env, c Condition) bool {
	if c == nil {
		return false
	}
	return c.evaluate(env)
}

func (c Eq) evaluate(env Env) bool {
	v, ok := env.Resolve(c.Path)
	return ok && canonicalize.Equal(v, c.Value)
}

func (c Ne) evaluate(env Env) bool {
	v, ok := env.Resolve(c.Path)
	return ok && !canonicalize.Equal(v, c.Value)
}

func (c Present) evaluate(env Env) bool {
	_, ok := env.Resolve(c.Path)
	return ok
}

func (c In) evaluate(env Env) bool {
	v, ok := env.Resolve(c.Path)
	return ok && member(v, c.Set)
}

func (c NotIn) evaluate(env Env) bool {
	v, ok := env.Resolve(c.Path)
	return ok && !member(v, c.Set)
}

func (c Any) evaluate(env Env) bool {
	for _, child := range c.Conditions {
		if Evaluate(env, child) {
			return true
		}
	}
	return false
}

func (c All) evaluate(env Env) bool {
	for _, child := range c.Conditions {
		if !Evaluate(env, child) {
			return false
		}
	}
	return true
}

func (c Not) evaluate(env Env) bool {
	return !Evaluate(env, c.Condition)
}

func member(v any, set []any) bool {
	for _, candidate := range set {
		if canonicalize.Equal(v, candidate) {
			return true
		}
	}
	return false
}
