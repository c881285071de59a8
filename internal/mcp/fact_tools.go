package mcp

import (
	"context"
	"fmt"
	"strings"

	"grabctx-mcp-server/internal/mangle"
)

type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "query-selection-facts" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle query over everything captured so far.

Each captured session is flattened into facts (session, element,
element_component, element_owner, element_source, element_handler,
element_route, ...) and derived rules such as:
- component_file(Component, File)
- interactive_element(Session, Element)
- degraded_element(Session, Element, Status)
- precise_source(Session, Element, File, Line)
- data_bound_element(Session, Element, Kind)

EXAMPLES:
- component_file("SaveButton", File)
- interactive_element(S, E)
- element_owner("<session id>", E, Component)

Returns: {results: [{Var: value, ...}], count}.`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "A single atom; capitalized arguments are variables",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := strings.TrimSpace(getStringArg(args, "query"))
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"results": results, "count": len(results)}, nil
}

type EvaluatePredicateTool struct {
	engine *mangle.Engine
}

func (t *EvaluatePredicateTool) Name() string { return "evaluate-predicate" }
func (t *EvaluatePredicateTool) Description() string {
	return `Return every fact of one predicate, base or derived. Call without a
predicate to list the declared predicates.`
}
func (t *EvaluatePredicateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name, e.g. component_file",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts to return (default 100)",
			},
		},
	}
}
func (t *EvaluatePredicateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := strings.TrimSpace(getStringArg(args, "predicate"))
	if predicate == "" {
		return map[string]interface{}{"predicates": t.engine.Predicates()}, nil
	}
	facts, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	limit := getIntArg(args, "limit", 100)
	total := len(facts)
	if limit > 0 && len(facts) > limit {
		facts = facts[:limit]
	}
	return map[string]interface{}{"predicate": predicate, "facts": facts, "count": len(facts), "total": total}, nil
}

type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add Mangle declarations or rules to the selection program. The whole
program is re-analyzed; a rule that fails analysis is rejected and the
program is left unchanged.

EXAMPLE:
tested_component(C) :- element_component(S, E, C), element_test_id(S, E, _).`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source, one or more clauses ending in '.'",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := strings.TrimSpace(getStringArg(args, "rule"))
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true, "predicates": t.engine.Predicates()}, nil
}
