package policy

import (
	"fmt"

	"github.com/Mindburn-Labs/certkernel/pkg/condition"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

// CheckCompliance verifies the clauses a certificate cites:
//
//   - every cited id must exist (POLICY_CLAUSE_MISSING);
//   - every cited clause must be applicable under env (POLICY_VIOLATION);
//   - every require condition of an applicable clause must hold and every
//     forbid condition must not (POLICY_VIOLATION, one per failed entry).
//
// Mandatory clauses are enforced in addition to the cited ones when they apply;
// an inapplicable mandatory clause is simply not in force. Mandatory ids that
// are also cited are checked once, as cited clauses.
func CheckCompliance(p *Program, usedClauseIDs []string, env condition.Env, mandatory ...string) []diag.Diagnostic {
	var diags []diag.Diagnostic
	cited := make(map[string]bool, len(usedClauseIDs))

	for i, cid := range usedClauseIDs {
		cited[cid] = true
		clause, ok := p.ClauseByID(cid)
		if !ok {
			diags = append(diags, diag.New(diag.PolicyClauseMissing,
				fmt.Sprintf("policy_refs.used_clause_ids[%d]", i),
				fmt.Sprintf("Referenced policy clause not found: %s", cid),
			).With("clause_id", cid))
			continue
		}

		if !IsApplicable(env, clause) {
			diags = append(diags, diag.New(diag.PolicyViolation,
				fmt.Sprintf("policy.%s.when", cid),
				fmt.Sprintf("Referenced policy clause is not applicable under current env: %s", cid),
			).With("clause_id", cid))
			continue
		}

		diags = append(diags, checkClause(clause, env, false)...)
	}

	for _, cid := range mandatory {
		if cited[cid] {
			continue
		}
		clause, ok := p.ClauseByID(cid)
		if !ok {
			diags = append(diags, diag.New(diag.PolicyClauseMissing,
				fmt.Sprintf("policy.%s", cid),
				fmt.Sprintf("Mandatory policy clause not found: %s", cid),
			).With("clause_id", cid).With("mandatory", true))
			continue
		}
		if !IsApplicable(env, clause) {
			continue
		}
		diags = append(diags, checkClause(clause, env, true)...)
	}

	return diags
}

func checkClause(c Clause, env condition.Env, mandatory bool) []diag.Diagnostic {
	var diags []diag.Diagnostic

	for j, req := range c.Require {
		if condition.Evaluate(env, req.Condition) {
			continue
		}
		d := diag.New(diag.PolicyViolation,
			fmt.Sprintf("policy.%s.require[%d]", c.ID, j),
			fmt.Sprintf("Policy requirement failed (%s): %s", c.ID, req.Message),
		).With("clause_id", c.ID)
		if mandatory {
			d = d.With("mandatory", true)
		}
		diags = append(diags, d)
	}

	for j, fb := range c.Forbid {
		if !condition.Evaluate(env, fb.Condition) {
			continue
		}
		d := diag.New(diag.PolicyViolation,
			fmt.Sprintf("policy.%s.forbid[%d]", c.ID, j),
			fmt.Sprintf("Policy forbid violated (%s): %s", c.ID, fb.Message),
		).With("clause_id", c.ID)
		if mandatory {
			d = d.With("mandatory", true)
		}
		diags = append(diags, d)
	}

	return diags
}
