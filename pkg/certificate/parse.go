package certificate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed certificate.schema.json
var schemaSource string

const schemaURL = "https://certkernel.schemas.local/certificate.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaSource)); err != nil {
			schemaErr = fmt.Errorf("certificate schema load failed: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("certificate schema compile failed: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Issue is a single structural problem found in a raw certificate.
type Issue struct {
	// Path is the dotted location inside the certificate, e.g.
	// "response.links[0].kind". Empty for document-level problems.
	Path    string
	Message string
}

// SchemaError is returned by Parse when the document is not a well-formed
// certificate. Issues are sorted by path.
type SchemaError struct {
	Issues []Issue
}

func (e *SchemaError) Error() string {
	if len(e.Issues) == 0 {
		return "certificate: invalid document"
	}
	first := e.Issues[0]
	if len(e.Issues) == 1 {
		return fmt.Sprintf("certificate: %s: %s", first.Path, first.Message)
	}
	return fmt.Sprintf("certificate: %s: %s (and %d more)", first.Path, first.Message, len(e.Issues)-1)
}

// Parse validates data against the certificate schema and decodes it.
// Structural failures are reported as *SchemaError.
func Parse(data []byte) (*Certificate, error) {
	s, err := schema()
	if err != nil {
		return nil, err
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, &SchemaError{Issues: []Issue{{Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}

	if err := s.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, &SchemaError{Issues: leafIssues(ve)}
		}
		return nil, &SchemaError{Issues: []Issue{{Message: err.Error()}}}
	}

	var cert Certificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, &SchemaError{Issues: []Issue{{Message: err.Error()}}}
	}
	return &cert, nil
}

func leafIssues(ve *jsonschema.ValidationError) []Issue {
	var out []Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, Issue{Path: PointerToPath(e.InstanceLocation), Message: e.Message})
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// PointerToPath converts a JSON pointer ("/response/links/0/kind") into the
// dotted form used by diagnostics ("response.links[0].kind").
func PointerToPath(ptr string) string {
	if ptr == "" || ptr == "/" {
		return ""
	}
	var b strings.Builder
	for i, tok := range strings.Split(strings.TrimPrefix(ptr, "/"), "/") {
		tok = strings.ReplaceAll(strings.ReplaceAll(tok, "~1", "/"), "~0", "~")
		if isIndex(tok) {
			b.WriteString("[" + tok + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(tok)
	}
	return b.String()
}

func isIndex(tok string) bool {
	if tok == "" {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
