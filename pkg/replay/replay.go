package replay

import (
	"fmt"

	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/condition"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

// Replay recomputes facts in order and returns the accepted outputs keyed by
// fact id together with the diagnostics of every rejected fact.
//
// A fact is rejected when its op is unknown, its id repeats, its op serves
// another fact kind, an input id is not yet accepted, the op fails or panics,
// or the recomputed value differs canonically from the declared output. The
// checks run in that order. Rejected facts never enter the output map, so
// their dependents fail in turn. Ops see the same environment layout as the
// policy checks, task text included.
func Replay(
	task string,
	idc certificate.IdentityContext,
	resp certificate.Response,
	trace certificate.ExecutionTrace,
	facts certificate.DerivedFacts,
	reg *Registry,
) (map[string]any, []diag.Diagnostic) {
	oc := NewOpContext(idc, resp, trace)
	outputs := make(map[string]any, len(facts.Facts))
	seen := make(map[string]bool, len(facts.Facts))
	var diags []diag.Diagnostic

	for _, fact := range facts.Facts {
		node := fact.Node()
		base := fmt.Sprintf("derived_facts.facts[%s]", node.ID)

		op, ok := reg.Lookup(node.Op)
		if !ok {
			diags = append(diags, diag.New(diag.UnknownOp, base+".op",
				fmt.Sprintf("Unknown op '%s'", node.Op)).With("op", node.Op))
			continue
		}

		if seen[node.ID] {
			diags = append(diags, diag.New(diag.DerivedReplayFail, base+".id",
				fmt.Sprintf("Duplicate derived fact id '%s'", node.ID)))
			continue
		}
		seen[node.ID] = true
		if op.Kind != fact.Kind() {
			diags = append(diags, diag.New(diag.DerivedReplayFail, base+".op",
				fmt.Sprintf("Op '%s' replays %s facts, not %s", node.Op, op.Kind, fact.Kind())).
				With("op_kind", string(op.Kind)).
				With("fact_kind", string(fact.Kind())))
			continue
		}

		var missing []string
		inputs := make([]any, 0, len(node.Inputs))
		for _, id := range node.Inputs {
			v, ok := outputs[id]
			if !ok {
				missing = append(missing, id)
				continue
			}
			inputs = append(inputs, v)
		}
		if len(missing) > 0 {
			diags = append(diags, diag.New(diag.DerivedReplayFail, base+".inputs",
				"Derived fact references missing inputs").With("missing", missing))
			continue
		}

		env := certificate.BuildEnv(task, idc, resp, outputs)
		computed, err := invoke(op, oc, env, inputs, fact)
		if err == nil {
			computed, err = canonicalize.Normalize(computed)
		}
		if err != nil {
			diags = append(diags, diag.New(diag.DerivedReplayFail, base,
				fmt.Sprintf("Replay failed for node %s: %v", node.ID, err)))
			continue
		}

		if !canonicalize.Equal(computed, node.Output) {
			diags = append(diags, diag.New(diag.DerivedReplayFail, base+".output",
				fmt.Sprintf("Derived output mismatch for node %s", node.ID)).
				With("expected", node.Output).
				With("computed", computed))
			continue
		}

		outputs[node.ID] = computed
	}

	return outputs, diags
}

// invoke isolates a single op call so that a panicking op only fails its own
// node.
func invoke(op Op, oc *OpContext, env condition.Env, inputs []any, fact certificate.DerivedFact) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("op %s panicked: %v", op.Name, r)
		}
	}()
	return op.Fn(oc, env, inputs, fact)
}
