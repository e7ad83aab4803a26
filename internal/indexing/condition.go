package indexing

import (
	"fmt"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/syntrixbase/searchindexer/internal/events"
)

// DefaultConditionCacheSize is the number of compiled conditions kept.
const DefaultConditionCacheSize = 1000

// ConditionEvaluator evaluates CEL conditions over an `event` variable.
type ConditionEvaluator struct {
	env   *cel.Env
	cache *lru.Cache[string, cel.Program]
}

// NewConditionEvaluator creates an evaluator caching up to cacheSize
// compiled programs.
func NewConditionEvaluator(cacheSize int) (*ConditionEvaluator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultConditionCacheSize
	}
	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, err
	}
	return &ConditionEvaluator{env: env, cache: cache}, nil
}

// Compile checks a condition and caches its program.
func (e *ConditionEvaluator) Compile(condition string) (cel.Program, error) {
	if prg, ok := e.cache.Get(condition); ok {
		return prg, nil
	}
	ast, issues := e.env.Compile(condition)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, err
	}
	e.cache.Add(condition, prg)
	return prg, nil
}

// Evaluate runs condition against ev. An empty condition matches.
func (e *ConditionEvaluator) Evaluate(condition string, ev events.Event) (bool, error) {
	if condition == "" {
		return true, nil
	}
	prg, err := e.Compile(condition)
	if err != nil {
		return false, fmt.Errorf("failed to compile condition: %w", err)
	}
	out, _, err := prg.Eval(map[string]any{"event": eventInput(ev)})
	if err != nil {
		return false, fmt.Errorf("condition evaluation error: %w", err)
	}
	match, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition must return boolean, got %T", out.Value())
	}
	return match, nil
}

// CachedPrograms returns the number of cached programs.
func (e *ConditionEvaluator) CachedPrograms() int {
	return e.cache.Len()
}

func eventInput(ev events.Event) map[string]any {
	return map[string]any{
		"type":          string(ev.Type),
		"key":           ev.GroupingKey,
		"timestamp":     ev.Timestamp.UnixMilli(),
		"storageCode":   ev.StorageCode,
		"accessGroupId": ev.AccessGroupID,
		"objectId":      ev.ObjectID,
		"version":       int64(ev.Version),
		"objectType":    ev.ObjectType,
		"newName":       ev.NewName,
		"public":        ev.Public,
	}
}
