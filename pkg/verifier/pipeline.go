// Package verifier is the certificate verification kernel. It checks a
// proposed response certificate against an execution trace, a compiled policy
// program and a replay op registry, and returns every defect it finds as a
// diagnostic.
//
// The kernel performs no I/O and keeps no state between calls. A Kernel is
// safe for concurrent use once built.
package verifier

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/diag"
	"github.com/Mindburn-Labs/certkernel/pkg/policy"
	"github.com/Mindburn-Labs/certkernel/pkg/replay"
)

// Kernel runs the validation pipeline with a fixed configuration.
type Kernel struct {
	mandatory    []string
	redactions   []RedactionPattern
	parallel     bool
	writeMethods map[string]bool
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithMandatoryClauses names clauses enforced whenever they apply, cited or not.
func WithMandatoryClauses(ids ...string) Option {
	return func(k *Kernel) { k.mandatory = append([]string(nil), ids...) }
}

// WithRedactionPatterns replaces the public-mode redaction patterns.
func WithRedactionPatterns(patterns ...RedactionPattern) Option {
	return func(k *Kernel) { k.redactions = append([]RedactionPattern(nil), patterns...) }
}

// WithParallelChecks runs the independent stages (trace integrity, response
// contract, link grounding) concurrently. Output is identical to serial mode.
func WithParallelChecks(enabled bool) Option {
	return func(k *Kernel) { k.parallel = enabled }
}

// WithWriteMethods replaces the request methods treated as mutating when a
// call does not declare its effect.
func WithWriteMethods(methods ...string) Option {
	return func(k *Kernel) {
		k.writeMethods = make(map[string]bool, len(methods))
		for _, m := range methods {
			k.writeMethods[strings.ToUpper(m)] = true
		}
	}
}

// New builds a kernel. Without options it enforces no mandatory clauses,
// uses DefaultRedactionPatterns and DefaultWriteMethods, and runs serially.
func New(opts ...Option) *Kernel {
	k := &Kernel{redactions: DefaultRedactionPatterns()}
	WithWriteMethods(DefaultWriteMethods()...)(k)
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// MandatoryClauses returns the configured mandatory clause ids.
func (k *Kernel) MandatoryClauses() []string {
	return append([]string(nil), k.mandatory...)
}

// Validate runs every stage over cert and unions their diagnostics in stage
// order. It never stops early.
//
// The program and registry are required collaborators; passing nil is a
// programming error and panics.
func (k *Kernel) Validate(task string, idc certificate.IdentityContext, cert *certificate.Certificate, p *policy.Program, reg *replay.Registry) diag.Result {
	if p == nil || reg == nil {
		panic("verifier: Validate requires a policy program and an op registry")
	}
	if cert == nil {
		return diag.NewResult([]diag.Diagnostic{
			diag.New(diag.SchemaError, "", "Certificate is required"),
		})
	}

	var diags []diag.Diagnostic

	// Stage 0
	diags = append(diags, checkEcho(task, cert, p)...)

	// Stages 1, 2, 5 depend only on the certificate.
	integrity, contract, links := k.independentChecks(idc, cert)
	diags = append(diags, integrity...)
	diags = append(diags, contract...)

	// Stage 3
	accepted, replayDiags := replay.Replay(task, idc, cert.Response, cert.ExecutionTrace, cert.DerivedFacts, reg)
	diags = append(diags, replayDiags...)

	env := certificate.BuildEnv(task, idc, cert.Response, accepted)

	// Stage 4
	diags = append(diags, policy.CheckCompliance(p, cert.PolicyRefs.UsedClauseIDs, env, k.mandatory...)...)

	// Stage 5
	diags = append(diags, links...)

	// Stage 6
	diags = append(diags, CheckMinimality(cert.Response, cert.Commitments, p, env)...)
	diags = append(diags, CheckClaims(cert, accepted, p)...)

	// Stage 7
	diags = append(diags, CheckWriteSafety(cert.ExecutionTrace, cert.Commitments, p, env, k.writeMethods)...)

	return diag.NewResult(diags)
}

// ValidateJSON parses raw certificate JSON first. Structural failures are
// reported as SCHEMA_ERROR diagnostics, one per schema issue, and no later
// stage runs.
func (k *Kernel) ValidateJSON(task string, idc certificate.IdentityContext, data []byte, p *policy.Program, reg *replay.Registry) diag.Result {
	cert, err := certificate.Parse(data)
	if err != nil {
		return diag.NewResult(schemaDiagnostics(err))
	}
	return k.Validate(task, idc, cert, p, reg)
}

func (k *Kernel) independentChecks(idc certificate.IdentityContext, cert *certificate.Certificate) (integrity, contract, links []diag.Diagnostic) {
	stages := [3]func() []diag.Diagnostic{
		func() []diag.Diagnostic { return VerifyTraceIntegrity(cert.ExecutionTrace, idc) },
		func() []diag.Diagnostic { return CheckResponseContract(idc, cert.Response, k.redactions) },
		func() []diag.Diagnostic { return VerifyLinkGrounding(cert.Response, cert.ExecutionTrace) },
	}
	var out [3][]diag.Diagnostic

	if !k.parallel {
		for i, stage := range stages {
			out[i] = stage()
		}
		return out[0], out[1], out[2]
	}

	var g errgroup.Group
	for i, stage := range stages {
		i, stage := i, stage
		g.Go(func() error {
			out[i] = stage()
			return nil
		})
	}
	_ = g.Wait() // stages report through diagnostics only
	return out[0], out[1], out[2]
}

func checkEcho(task string, cert *certificate.Certificate, p *policy.Program) []diag.Diagnostic {
	var diags []diag.Diagnostic
	if cert.TaskText != task {
		diags = append(diags, diag.New(diag.SchemaError, "task_text",
			"Certificate task_text does not match the task").
			With("expected", task).
			With("got", cert.TaskText))
	}
	if cert.PCVersion != p.Version() {
		diags = append(diags, diag.New(diag.SchemaError, "pc_version",
			fmt.Sprintf("Certificate pc_version does not match policy version %s", p.Version())).
			With("expected", p.Version()).
			With("got", cert.PCVersion))
	}
	return diags
}

func schemaDiagnostics(err error) []diag.Diagnostic {
	var se *certificate.SchemaError
	if !errors.As(err, &se) {
		return []diag.Diagnostic{diag.New(diag.SchemaError, "", err.Error())}
	}
	out := make([]diag.Diagnostic, 0, len(se.Issues))
	for _, issue := range se.Issues {
		out = append(out, diag.New(diag.SchemaError, issue.Path, issue.Message))
	}
	return out
}

var defaultKernel = New()

// Validate runs the pipeline with the default kernel configuration.
func Validate(task string, idc certificate.IdentityContext, cert *certificate.Certificate, p *policy.Program, reg *replay.Registry) diag.Result {
	return defaultKernel.Validate(task, idc, cert, p, reg)
}

// ValidateJSON is Kernel.ValidateJSON with the default configuration.
func ValidateJSON(task string, idc certificate.IdentityContext, data []byte, p *policy.Program, reg *replay.Registry) diag.Result {
	return defaultKernel.ValidateJSON(task, idc, data, p, reg)
}
