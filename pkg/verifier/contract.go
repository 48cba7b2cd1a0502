package verifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

// RedactionPattern names a structure that must never reach a public caller.
type RedactionPattern struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultRedactionPatterns covers raw internal identifiers and email
// addresses.
func DefaultRedactionPatterns() []RedactionPattern {
	return []RedactionPattern{
		{Name: "employee_id", Pattern: regexp.MustCompile(`\bemp_[A-Za-z0-9_-]+`)},
		{Name: "project_id", Pattern: regexp.MustCompile(`\bproj_[A-Za-z0-9_-]+`)},
		{Name: "customer_id", Pattern: regexp.MustCompile(`\bcust_[A-Za-z0-9_-]+`)},
		{Name: "email", Pattern: regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)},
	}
}

// CheckResponseContract enforces the outcome-specific shape of a response:
//
//   - every outcome carries a non-blank message and is a known outcome;
//   - denied and not-found outcomes carry no links;
//   - clarification outcomes name at least one specific missing input;
//   - in public mode (ctx.is_public) neither the message nor any link id
//     matches a redaction pattern.
func CheckResponseContract(idc certificate.IdentityContext, resp certificate.Response, patterns []RedactionPattern) []diag.Diagnostic {
	var diags []diag.Diagnostic

	if !resp.Outcome.Valid() {
		diags = append(diags, diag.New(diag.ResponseContractFail, "response.outcome",
			fmt.Sprintf("Unknown outcome %q", resp.Outcome)))
	}

	if strings.TrimSpace(resp.Message) == "" {
		diags = append(diags, diag.New(diag.ResponseContractFail, "response.message",
			"Response message must not be empty"))
	}

	switch resp.Outcome {
	case certificate.OutcomeDenied, certificate.OutcomeOKNotFound:
		if len(resp.Links) > 0 {
			diags = append(diags, diag.New(diag.ResponseContractFail, "response.links",
				fmt.Sprintf("Outcome %s must not carry links", resp.Outcome)).
				With("count", len(resp.Links)))
		}
	case certificate.OutcomeClarification:
		if !hasSpecificInput(resp.MissingInputs) {
			diags = append(diags, diag.New(diag.ResponseContractFail, "response.missing_inputs",
				"Clarification must name at least one missing input"))
		}
	}

	if isPublic(idc) {
		diags = append(diags, checkRedaction(resp, patterns)...)
	}

	return diags
}

func hasSpecificInput(inputs []string) bool {
	for _, in := range inputs {
		if strings.TrimSpace(in) != "" {
			return true
		}
	}
	return false
}

func isPublic(idc certificate.IdentityContext) bool {
	v, _ := idc.Fields["is_public"].(bool)
	return v
}

func checkRedaction(resp certificate.Response, patterns []RedactionPattern) []diag.Diagnostic {
	var diags []diag.Diagnostic
	for _, p := range patterns {
		if p.Pattern.MatchString(resp.Message) {
			diags = append(diags, diag.New(diag.PublicRedactionFail, "response.message",
				fmt.Sprintf("Public response message exposes %s", p.Name)).
				With("pattern", p.Name))
		}
	}
	for i, link := range resp.Links {
		for _, p := range patterns {
			if p.Pattern.MatchString(link.ID) {
				diags = append(diags, diag.New(diag.PublicRedactionFail, fmt.Sprintf("response.links[%d].id", i),
					fmt.Sprintf("Public response link exposes %s", p.Name)).
					With("pattern", p.Name))
			}
		}
	}
	return diags
}
