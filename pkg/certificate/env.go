package certificate

import (
	"github.com/Mindburn-Labs/certkernel/pkg/canonicalize"
	"github.com/Mindburn-Labs/certkernel/pkg/condition"
)

// BuildEnv assembles the condition environment:
//
//	ctx.<field>      identity fields plus ctx.ctx_hash
//	response.<field> the proposed response
//	df.<fact-id>     accepted (recomputed) fact outputs only
//	task.text        the authoritative task text
//
// Values are normalized to JSON-native types so conditions compare them the
// same way regardless of how the caller built them.
func BuildEnv(task string, ctx IdentityContext, resp Response, facts map[string]any) condition.Env {
	df := make(map[string]any, len(facts))
	for id, v := range facts {
		df[id] = v
	}
	return condition.Env{
		"ctx":      normalizedObject(ctx),
		"response": normalizedObject(resp),
		"df":       df,
		"task":     map[string]any{"text": task},
	}
}

func normalizedObject(v any) map[string]any {
	n, err := canonicalize.Normalize(v)
	if err != nil {
		return map[string]any{}
	}
	m, ok := n.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return m
}
