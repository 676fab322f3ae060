package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/relfill/internal/engine"
	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/schema"
	"github.com/roach88/relfill/internal/store"
	"github.com/roach88/relfill/internal/testutil"
)

// Harness runs one scenario against a private in-memory database.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	reg    *schema.Registry
	logger *slog.Logger
}

// Option configures a scenario run.
type Option func(*config)

type config struct {
	logger     *slog.Logger
	engineOpts []engine.Option
}

// WithLogger sets the logger for the harness and the engine it drives.
//
// Default: logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEngineOptions passes extra options to the engine, applied after the
// harness defaults (sequential operation IDs, the scenario's max depth).
func WithEngineOptions(opts ...engine.Option) Option {
	return func(c *config) {
		c.engineOpts = append(c.engineOpts, opts...)
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation, with
// operation IDs "op-1", "op-2", ... so traces are reproducible.
//
// Execution flow:
//  1. Load the schema and open the database
//  2. Insert seed rows
//  3. Run each step in its own transaction, checking its expectation
//  4. Evaluate assertions
//
// A step or assertion that does not hold is recorded in Result.Errors.
// The returned error is reserved for scenarios that cannot run at all.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	st, err := store.OpenSQLite(":memory:", reg)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	engOpts := []engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithOperationIDs(testutil.NewSequentialIDs("op")),
	}
	if scenario.MaxDepth > 0 {
		engOpts = append(engOpts, engine.WithMaxDepth(scenario.MaxDepth))
	}
	engOpts = append(engOpts, cfg.engineOpts...)

	h := &Harness{
		store:  st,
		engine: engine.New(st, reg, engOpts...),
		reg:    reg,
		logger: cfg.logger,
	}

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.runStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	actx := &AssertionContext{Ctx: ctx, Store: st, Engine: h.engine}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) seed(ctx context.Context, rows []SeedRow) error {
	for i, row := range rows {
		t, err := h.reg.Type(row.Type)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		fields, err := ir.ObjectFromGo(row.Fields)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		ent, err := h.store.Create(ctx, t, fields)
		if err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
		h.logger.Debug("seed row inserted", "row", i, "entity", ent.String())
	}
	return nil
}

// errLoad marks a fill step whose target entity could not be loaded.
var errLoad = errors.New("load fill target")

// runStep runs one step in a transaction bound to a copy of the engine, so
// a failed step leaves no writes behind.
func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) error {
	payload, err := ir.ObjectFromGo(step.Payload)
	if err != nil {
		return fmt.Errorf("steps[%d]: payload: %w", i, err)
	}

	tr := StepTrace{Index: i, Op: "create " + step.Create}
	if step.Fill != nil {
		tr.Op = "fill " + step.Fill.String()
	}

	var res *engine.Result
	err = h.store.InTx(ctx, func(tx *store.Store) error {
		eng := h.engine.WithStore(tx)
		if step.Fill == nil {
			var err error
			res, err = eng.Create(ctx, step.Create, payload)
			return err
		}
		t, err := h.reg.Type(step.Fill.Type)
		if err != nil {
			return fmt.Errorf("%w: %w", errLoad, err)
		}
		ent, err := tx.FindByKey(ctx, t, ir.Key(step.Fill.Key))
		if err != nil {
			return fmt.Errorf("%w %s: %w", errLoad, step.Fill, err)
		}
		res, err = eng.Fill(ctx, ent, payload)
		return err
	})
	if errors.Is(err, errLoad) {
		result.AddError(fmt.Sprintf("steps[%d] (%s): %v", i, tr.Op, err))
		return nil
	}

	if err != nil {
		tr.Error = errorLabel(err)
	} else {
		tr.Entity = res.Entity.String()
		tr.OperationID = res.OperationID
		tr.Reports = res.Reports
	}
	result.AddStep(tr)

	for _, msg := range checkStep(tr, step.Expect, err) {
		result.AddError(msg)
	}

	h.logger.Info("scenario step completed",
		"step", i,
		"op", tr.Op,
		"entity", tr.Entity,
		"error", tr.Error,
	)
	return nil
}

// errorLabel is the error code of a fill error, or STORE_ERROR for
// anything the store raised unclassified.
func errorLabel(err error) string {
	if code := engine.CodeOf(err); code != "" {
		return string(code)
	}
	return "STORE_ERROR"
}
