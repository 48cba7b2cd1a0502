package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/certkernel/pkg/verifier"
)

// KernelProfile is the deployment-specific verifier configuration.
type KernelProfile struct {
	Name               string            `yaml:"name" json:"name"`
	MandatoryClauseIDs []string          `yaml:"mandatory_clause_ids" json:"mandatory_clause_ids"`
	RedactionPatterns  map[string]string `yaml:"redaction_patterns,omitempty" json:"redaction_patterns,omitempty"`
	ParallelChecks     bool              `yaml:"parallel_checks" json:"parallel_checks"`
	WriteMethods       []string          `yaml:"write_methods,omitempty" json:"write_methods,omitempty"`
}

// LoadProfile reads a kernel profile YAML. Unknown keys are rejected.
func LoadProfile(path string) (*KernelProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes and validates a kernel profile.
func ParseProfile(data []byte) (*KernelProfile, error) {
	var profile KernelProfile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&profile); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if _, err := profile.redactions(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Options converts the profile into verifier options. Redaction patterns,
// when given, replace the defaults; they are applied in name order.
func (p *KernelProfile) Options() ([]verifier.Option, error) {
	opts := []verifier.Option{
		verifier.WithMandatoryClauses(p.MandatoryClauseIDs...),
		verifier.WithParallelChecks(p.ParallelChecks),
	}

	patterns, err := p.redactions()
	if err != nil {
		return nil, err
	}
	if len(patterns) > 0 {
		opts = append(opts, verifier.WithRedactionPatterns(patterns...))
	}
	if len(p.WriteMethods) > 0 {
		opts = append(opts, verifier.WithWriteMethods(p.WriteMethods...))
	}
	return opts, nil
}

// Digest identifies the profile's effect on verification results.
func (p *KernelProfile) Digest() (string, error) {
	return canonicalize.CanonicalHash(map[string]any{
		"mandatory_clause_ids": p.MandatoryClauseIDs,
		"redaction_patterns":   p.RedactionPatterns,
		"write_methods":        p.WriteMethods,
	})
}

func (p *KernelProfile) redactions() ([]verifier.RedactionPattern, error) {
	names := make([]string, 0, len(p.RedactionPatterns))
	for name := range p.RedactionPatterns {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]verifier.RedactionPattern, 0, len(names))
	for _, name := range names {
		re, err := regexp.Compile(p.RedactionPatterns[name])
		if err != nil {
			return nil, fmt.Errorf("profile redaction pattern %q: %w", name, err)
		}
		out = append(out, verifier.RedactionPattern{Name: name, Pattern: re})
	}
	return out, nil
}
