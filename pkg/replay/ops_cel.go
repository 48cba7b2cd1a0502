package replay

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	lru "github.com/hashicorp/golang-lru/v2"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Mindburn-Labs/certkernel/pkg/certificate"
	"github.com/Mindburn-Labs/certkernel/pkg/condition"
)

const (
	// celCostLimit bounds the work a single expression may do.
	celCostLimit = 10000
	// celProgramCacheSize bounds the compiled programs kept per evaluator.
	// Expressions come from certificates, so the cache must not grow with them.
	celProgramCacheSize = 256
)

// celEvaluator runs cel_eval compute facts. Compiled programs are cached by
// expression text; the cache never affects results.
type celEvaluator struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

func newCELEvaluator(cacheSize int) (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.CustomTypeAdapter(orderedAdapter{Adapter: types.DefaultTypeAdapter}),
		cel.Variable("inputs", cel.ListType(cel.DynType)),
		cel.Variable("env", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	programs, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program cache: %w", err)
	}
	return &celEvaluator{env: env, programs: programs}, nil
}

// eval evaluates fact.Expr over inputs, env and params and returns
// {"value": <result>} with the result converted to plain JSON values.
func (e *celEvaluator) eval(_ *OpContext, env condition.Env, inputs []any, fact certificate.DerivedFact) (any, error) {
	cf, ok := fact.(certificate.ComputeFact)
	if !ok {
		return nil, fmt.Errorf("expected compute fact, got %s", fact.Kind())
	}
	if cf.Expr == "" {
		return nil, fmt.Errorf("cel_eval requires expr")
	}

	prg, err := e.program(cf.Expr)
	if err != nil {
		return nil, err
	}

	if inputs == nil {
		inputs = []any{}
	}
	params := cf.Params
	if params == nil {
		params = map[string]any{}
	}
	out, _, err := prg.Eval(map[string]any{
		"inputs": inputs,
		"env":    map[string]any(env),
		"params": params,
	})
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}

	native, err := out.ConvertToNative(reflect.TypeOf(&structpb.Value{}))
	if err != nil {
		return nil, fmt.Errorf("result not representable as JSON: %w", err)
	}
	v, ok := native.(*structpb.Value)
	if !ok {
		return nil, fmt.Errorf("result not representable as JSON: %T", native)
	}
	return map[string]any{"value": v.AsInterface()}, nil
}

// program compiles expr or returns the cached program. Concurrent misses on
// the same expression may both compile; the results are interchangeable.
func (e *celEvaluator) program(expr string) (cel.Program, error) {
	if prg, hit := e.programs.Get(expr); hit {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if err := rejectMapLiteralRanges(ast); err != nil {
		return nil, err
	}
	prg, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(celCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.programs.Add(expr, prg)
	return prg, nil
}

// rejectMapLiteralRanges refuses comprehensions over map literals. Literal
// maps are built by the interpreter rather than the adapter, so their
// iteration order cannot be fixed.
func rejectMapLiteralRanges(checked *cel.Ast) error {
	var found bool
	celast.PreOrderVisit(checked.NativeRep().Expr(), celast.NewExprVisitor(func(e celast.Expr) {
		if e.Kind() == celast.ComprehensionKind && e.AsComprehension().IterRange().Kind() == celast.MapKind {
			found = true
		}
	}))
	if found {
		return fmt.Errorf("compile: iterating a map literal is not deterministic")
	}
	return nil
}

// orderedAdapter converts native values for CEL so that every map iterates
// its keys in sorted order. Go map order is random, and comprehensions such
// as map, filter or exists would otherwise make replay nondeterministic.
type orderedAdapter struct {
	types.Adapter
}

func (a orderedAdapter) NativeToValue(value any) ref.Val {
	switch v := value.(type) {
	case map[string]any:
		return orderedMap{Mapper: types.NewStringInterfaceMap(a, v), adapter: a}
	case []any:
		return types.NewDynamicList(a, v)
	case orderedMap:
		return v
	}
	val := a.Adapter.NativeToValue(value)
	if m, ok := val.(traits.Mapper); ok {
		if _, done := val.(orderedMap); !done {
			return orderedMap{Mapper: m, adapter: a}
		}
	}
	return val
}

// orderedMap is a CEL map whose iterator yields keys in sorted order.
type orderedMap struct {
	traits.Mapper
	adapter types.Adapter
}

func (m orderedMap) Iterator() traits.Iterator {
	var keys []ref.Val
	it := m.Mapper.Iterator()
	for it.HasNext() == types.True {
		keys = append(keys, it.Next())
	}
	sort.SliceStable(keys, func(i, j int) bool {
		return sortKey(keys[i]) < sortKey(keys[j])
	})
	return types.NewRefValList(m.adapter, keys).Iterator()
}

func sortKey(k ref.Val) string {
	if s, ok := k.(types.String); ok {
		return string(s)
	}
	return fmt.Sprintf("%T:%v", k.Value(), k.Value())
}
