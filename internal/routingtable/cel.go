package routingtable

import (
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rmacdonaldsmith/eventbus-go/pkg/eventlog"
	"github.com/rmacdonaldsmith/eventbus-go/pkg/routingtable"
)

// FilterCompiler turns CEL expressions into subscription preconditions.
//
// Expressions see the variables id, name, attributes (map of string to string) and
// timestamp, e.g. `name == "order.created" && attributes["region"] == "eu"`.
// Compiled programs are cached by expression text.
type FilterCompiler struct {
	env    *cel.Env
	logger *slog.Logger

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewFilterCompiler creates a compiler with the event environment.
func NewFilterCompiler(logger *slog.Logger) (*FilterCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("attributes", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("timestamp", cel.TimestampType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &FilterCompiler{
		env:      env,
		logger:   logger,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Compile returns a precondition evaluating expr. An empty expression matches everything.
func (c *FilterCompiler) Compile(expr string) (routingtable.Precondition, error) {
	if expr == "" {
		return nil, nil
	}

	prg, err := c.program(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %v", routingtable.ErrInvalidSubscription, expr, err)
	}

	return func(event eventlog.Event) bool {
		out, _, err := prg.Eval(map[string]any{
			"id":         event.ID,
			"name":       event.Name,
			"attributes": event.Attributes,
			"timestamp":  event.Timestamp,
		})
		if err != nil {
			// Missing attribute keys land here; treat as no match
			c.logger.Debug("filter evaluation failed", "filter", expr, "event_id", event.ID, "error", err)
			return false
		}
		matched, ok := out.Value().(bool)
		return ok && matched
	}, nil
}

func (c *FilterCompiler) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, hit := c.prgCache[expr]
	c.mu.RUnlock()
	if hit {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double check
	if prg, hit = c.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %v", ast.OutputType())
	}
	prg, err := c.env.Program(ast, cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	c.prgCache[expr] = prg
	return prg, nil
}
