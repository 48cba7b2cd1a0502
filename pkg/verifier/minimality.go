package verifier

import (
	"fmt"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/condition"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
	"github.com/Mindburn-Labs/certkernel/pkg/policy"
)

// CheckMinimality applies to escape-hatch outcomes only. Refusing requires a
// minimality commitment for the chosen outcome that considered answering
// (ok_answer), marked it impossible and named an existing clause that applies
// under env. Every ok_answer alternative offered is checked.
func CheckMinimality(resp certificate.Response, commitments []certificate.Commitment, p *policy.Program, env condition.Env) []diag.Diagnostic {
	if !resp.Outcome.IsEscapeHatch() {
		return nil
	}

	var matching []certificate.Commitment
	for _, c := range commitments {
		if c.Kind == certificate.CommitMinimality && c.ForOutcome == resp.Outcome {
			matching = append(matching, c)
		}
	}
	if len(matching) == 0 {
		return []diag.Diagnostic{diag.New(diag.MinimalityMissing, "commitments",
			"Missing minimality commitment for escape-hatch outcome").
			With("outcome", string(resp.Outcome))}
	}

	var diags []diag.Diagnostic
	considered := false
	for _, c := range matching {
		for j, alt := range c.CheckedAlternatives {
			if alt.Outcome != certificate.OutcomeOKAnswer {
				continue
			}
			considered = true
			path := fmt.Sprintf("commitments[%s].checked_alternatives[%d]", c.ID, j)

			if alt.Status != certificate.StatusImpossible {
				diags = append(diags, diag.New(diag.MinimalityFail, path+".status",
					"ok_answer alternative must be marked impossible").
					With("status", string(alt.Status)))
				continue
			}
			if alt.ReasonClauseID == "" {
				diags = append(diags, diag.New(diag.MinimalityFail, path+".reason_clause_id",
					"Missing reason_clause_id for impossible ok_answer alternative"))
				continue
			}
			clause, ok := p.ClauseByID(alt.ReasonClauseID)
			if !ok {
				diags = append(diags, diag.New(diag.MinimalityFail, path+".reason_clause_id",
					"Minimality reason clause id not found").
					With("reason_clause_id", alt.ReasonClauseID))
				continue
			}
			if !policy.IsApplicable(env, clause) {
				diags = append(diags, diag.New(diag.MinimalityFail, fmt.Sprintf("policy.%s.when", clause.ID),
					"Minimality reason clause not applicable under current env").
					With("reason_clause_id", alt.ReasonClauseID))
			}
		}
	}

	if !considered {
		diags = append(diags, diag.New(diag.MinimalityFail, "commitments",
			"Minimality commitment must consider the ok_answer alternative").
			With("outcome", string(resp.Outcome)))
	}

	return diags
}

// CheckClaims verifies that claims only lean on accepted facts, existing
// clauses and, for trace_binding commitments, recorded calls.
func CheckClaims(cert *certificate.Certificate, accepted map[string]any, p *policy.Program) []diag.Diagnostic {
	var diags []diag.Diagnostic

	for _, c := range cert.Commitments {
		for i, claim := range c.Claims {
			base := fmt.Sprintf("commitments[%s].claims[%d]", c.ID, i)

			for _, fid := range claim.SupportedByFactIDs {
				if _, ok := accepted[fid]; !ok {
					diags = append(diags, diag.New(diag.DerivedReplayFail, base+".supported_by_fact_ids",
						fmt.Sprintf("Claim relies on fact %s which was not accepted by replay", fid)).
						With("fact_id", fid))
				}
			}
			for _, cid := range claim.SupportedByClauseIDs {
				if _, ok := p.ClauseByID(cid); !ok {
					diags = append(diags, diag.New(diag.PolicyClauseMissing, base+".supported_by_clause_ids",
						fmt.Sprintf("Claim cites unknown policy clause %s", cid)).
						With("clause_id", cid))
				}
			}

			if c.Kind != certificate.CommitTraceBinding {
				continue
			}
			callID, ok := claim.DetailString("call_id")
			if !ok {
				continue
			}
			if _, found := cert.ExecutionTrace.Call(callID); !found {
				diags = append(diags, diag.New(diag.MissingCall, base+".details.call_id",
					fmt.Sprintf("Claim binds to call %s which is not in the trace", callID)).
					With("call_id", callID))
			}
		}
	}

	return diags
}
