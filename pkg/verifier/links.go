package verifier

import (
	"fmt"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

// VerifyLinkGrounding requires every response link to be a trace artifact.
// All offenders are reported in one pass.
func VerifyLinkGrounding(resp certificate.Response, trace certificate.ExecutionTrace) []diag.Diagnostic {
	grounded := make(map[certificate.Artifact]bool, len(trace.Artifacts))
	for _, a := range trace.Artifacts {
		grounded[a] = true
	}

	var diags []diag.Diagnostic
	for i, link := range resp.Links {
		if grounded[certificate.Artifact{Kind: string(link.Kind), ID: link.ID}] {
			continue
		}
		diags = append(diags, diag.New(diag.LinkNotGrounded, fmt.Sprintf("response.links[%d]", i),
			"Link not grounded in trace artifacts").
			With("kind", string(link.Kind)).
			With("id", link.ID))
	}
	return diags
}
