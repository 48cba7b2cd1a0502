package verifier

import (
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/condition"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
	"github.com/Mindburn-Labs/certkernel/pkg/policy"
)

// DefaultWriteMethods are the request methods treated as mutating when a call
// does not declare its effect.
func DefaultWriteMethods() []string {
	return []string{"POST", "PUT", "PATCH", "DELETE"}
}

// CheckWriteSafety requires every mutating call to be followed by a read of
// the same resource with an embedded response, and to be covered by a
// write_safety claim (details.call_id) citing an existing clause that applies
// under env.
func CheckWriteSafety(trace certificate.ExecutionTrace, commitments []certificate.Commitment, p *policy.Program, env condition.Env, writeMethods map[string]bool) []diag.Diagnostic {
	var diags []diag.Diagnostic

	for i, call := range trace.Calls {
		if !isWrite(call, writeMethods) {
			continue
		}
		base := fmt.Sprintf("execution_trace.calls[%s]", call.ID)

		if call.Request.Resource == "" {
			diags = append(diags, diag.New(diag.WriteSafetyFail, base+".request.resource",
				fmt.Sprintf("Write call %s does not name the resource it mutates", call.ID)))
		} else if !confirmedLater(trace.Calls[i+1:], call.Request.Resource, writeMethods) {
			diags = append(diags, diag.New(diag.WriteSafetyFail, base,
				fmt.Sprintf("Write call %s has no recorded read-after-write confirmation", call.ID)).
				With("resource", call.Request.Resource))
		}

		diags = append(diags, checkWriteAuthorization(call.ID, commitments, p, env)...)
	}

	return diags
}

func isWrite(call certificate.CallRecord, writeMethods map[string]bool) bool {
	switch call.Request.Effect {
	case "write":
		return true
	case "read":
		return false
	}
	return writeMethods[strings.ToUpper(call.Request.Method)]
}

func confirmedLater(later []certificate.CallRecord, resource string, writeMethods map[string]bool) bool {
	for _, c := range later {
		if !isWrite(c, writeMethods) && c.Request.Resource == resource && c.HasResponse() {
			return true
		}
	}
	return false
}

func checkWriteAuthorization(callID string, commitments []certificate.Commitment, p *policy.Program, env condition.Env) []diag.Diagnostic {
	for _, c := range commitments {
		if c.Kind != certificate.CommitWriteSafety {
			continue
		}
		for k, claim := range c.Claims {
			if id, _ := claim.DetailString("call_id"); id != callID {
				continue
			}
			for _, cid := range claim.SupportedByClauseIDs {
				clause, ok := p.ClauseByID(cid)
				if ok && policy.IsApplicable(env, clause) {
					return nil
				}
			}
			return []diag.Diagnostic{diag.New(diag.WriteSafetyFail,
				fmt.Sprintf("commitments[%s].claims[%d].supported_by_clause_ids", c.ID, k),
				fmt.Sprintf("Write call %s is not authorized by an existing, applicable clause", callID)).
				With("call_id", callID)}
		}
	}
	return []diag.Diagnostic{diag.New(diag.WriteSafetyFail, "commitments",
		fmt.Sprintf("Missing write_safety commitment for call %s", callID)).
		With("call_id", callID)}
}
