package verifier

import (
	"fmt"

	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

// VerifyTraceIntegrity checks that the trace was recorded under the expected
// identity and that every embedded response still matches its declared
// content hash. Calls are never re-executed.
func VerifyTraceIntegrity(trace certificate.ExecutionTrace, expected certificate.IdentityContext) []diag.Diagnostic {
	var diags []diag.Diagnostic

	if trace.HashRule != "" && trace.HashRule != canonicalize.HashRule {
		diags = append(diags, diag.New(diag.TraceIntegrityFail, "execution_trace.hash_rule",
			fmt.Sprintf("Unsupported hash rule %q", trace.HashRule)).
			With("expected", canonicalize.HashRule).
			With("got", trace.HashRule))
	}

	if trace.CtxHash != expected.CtxHash {
		diags = append(diags, diag.New(diag.CtxMismatch, "execution_trace.ctx_hash",
			"ExecutionTrace ctx_hash does not match expected ctx_hash").
			With("expected", expected.CtxHash).
			With("got", trace.CtxHash))
	}

	seen := make(map[string]bool, len(trace.Calls))
	for _, call := range trace.Calls {
		base := fmt.Sprintf("execution_trace.calls[%s]", call.ID)

		if seen[call.ID] {
			diags = append(diags, diag.New(diag.TraceIntegrityFail, base+".id",
				fmt.Sprintf("Duplicate call id %s", call.ID)))
			continue
		}
		seen[call.ID] = true

		// Absent bodies limit what replay can verify but are not a defect here.
		if !call.HasResponse() || call.ResponseHash == "" {
			continue
		}

		computed, err := canonicalize.CanonicalHash(call.Response)
		if err != nil {
			diags = append(diags, diag.New(diag.TraceIntegrityFail, base+".response",
				fmt.Sprintf("Response for call %s cannot be canonicalized: %v", call.ID, err)))
			continue
		}
		if computed != call.ResponseHash {
			diags = append(diags, diag.New(diag.RespHashMismatch, base+".response_hash",
				fmt.Sprintf("Response hash mismatch for call %s", call.ID)).
				With("expected", call.ResponseHash).
				With("computed", computed))
		}
	}

	return diags
}
