// Package celrules implements the Workflow Executor's secondary HIL
// classifier: operator-defined CEL expressions that can additionally flag a
// workflow as requiring approval for conditions the deterministic rule set
// (spec.md §4.2) doesn't cover. It can only add approval requirements,
// never remove one the deterministic set already raised.
package celrules

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Evaluator compiles and caches CEL programs of the form
// `workflow_type == "..." && payload.field > N`, evaluated against a dynamic
// "payload" map and a "workflow_type" string.
type Evaluator struct {
	env   *cel.Env
	mu    sync.RWMutex
	progs map[string]cel.Program
}

// New builds an Evaluator with a standard environment exposing
// workflow_type (string) and payload (dynamic map) to CEL expressions.
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("workflow_type", cel.StringType),
		cel.Variable("payload", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("celrules: create environment: %w", err)
	}
	return &Evaluator{env: env, progs: make(map[string]cel.Program)}, nil
}

// Check evaluates expr against the given workflow type and JSON payload and
// returns whether the operator-defined rule additionally requires approval.
// A malformed expression or payload is reported as an error; the caller
// (Classifier) treats an error as "no additional requirement" at the call
// site, never as a silent false.
func (e *Evaluator) Check(expr, workflowType string, payload json.RawMessage) (bool, error) {
	prog, err := e.program(expr)
	if err != nil {
		return false, err
	}

	var payloadMap map[string]interface{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &payloadMap); err != nil {
			return false, fmt.Errorf("celrules: decode payload: %w", err)
		}
	}

	out, _, err := prog.Eval(map[string]interface{}{
		"workflow_type": workflowType,
		"payload":       payloadMap,
	})
	if err != nil {
		return false, fmt.Errorf("celrules: evaluate %q: %w", expr, err)
	}
	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("celrules: expression %q did not evaluate to bool", expr)
	}
	return result, nil
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.progs[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prog, ok = e.progs[expr]; ok {
		return prog, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("celrules: compile %q: %w", expr, issues.Err())
	}
	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("celrules: program %q: %w", expr, err)
	}
	e.progs[expr] = prog
	return prog, nil
}

// Rules is an ordered set of CEL expressions; Any reports true if any
// expression evaluates true (logical OR across operator-defined rules).
type Rules struct {
	Evaluator   *Evaluator
	Expressions []string
}

// Any evaluates all expressions and returns true if any matches. The first
// evaluation error is returned alongside whatever partial result was
// computed from the expressions evaluated so far.
func (r Rules) Any(workflowType string, payload json.RawMessage) (bool, error) {
	if r.Evaluator == nil {
		return false, nil
	}
	for _, expr := range r.Expressions {
		matched, err := r.Evaluator.Check(expr, workflowType, payload)
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
