package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/relfill/internal/engine"
	"github.com/roach88/relfill/internal/harness"
	"github.com/roach88/relfill/internal/ir"
	"github.com/roach88/relfill/internal/metrics"
	"github.com/roach88/relfill/internal/store"
	"github.com/roach88/relfill/internal/tracing"
)

// FillOptions holds flags for the fill command.
type FillOptions struct {
	*RootOptions
	Schema      string
	DB          string
	Driver      string
	Type        string
	Key         int64
	MaxDepth    int
	OperationID string
	DryRun      bool
	Trace       bool
	Metrics     bool
}

// FillOutput is the outcome of a successful fill.
type FillOutput struct {
	Entity      string                  `json:"entity"`
	Key         ir.Key                  `json:"key"`
	Fields      ir.IRObject             `json:"fields"`
	OperationID string                  `json:"operation_id"`
	PayloadHash string                  `json:"payload_hash"`
	Reports     []engine.RelationReport `json:"reports"`
	DryRun      bool                    `json:"dry_run,omitempty"`
}

// errDryRun rolls back a completed fill.
var errDryRun = errors.New("dry run")

// NewFillCommand creates the fill command.
func NewFillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fill [payload.json]",
		Short: "Persist an entity and its relations from a nested payload",
		Long: `Persist an entity together with its related entities from one JSON payload.

The payload is read from the given file, or from stdin when omitted or "-".
With --key the stored entity is loaded and filled; otherwise a new entity of
--type is created. The whole fill runs in one transaction: any error leaves
the database unchanged.

Exit codes:
  0 - Fill committed (or rolled back by --dry-run)
  1 - Fill rejected (NOT_FOUND, DEEP_MODIFICATION_FORBIDDEN, etc.)
  2 - Command error (bad schema path, database unreachable, etc.)

Examples:
  relfill fill --schema schema.cue --db app.db --type Post post.json
  relfill fill --schema schema.cue --db app.db --type Post --key 7 < patch.json
  relfill fill --schema schema.cue --driver pgx --db postgres://localhost/app --type Post post.json
  relfill fill --schema schema.cue --db app.db --type Post --dry-run --trace post.json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFill(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "schema file or directory (required)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "database path or URL (required)")
	cmd.Flags().StringVar(&opts.Driver, "driver", store.DriverSQLite, "database driver (sqlite3|pgx)")
	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "entity type to fill (required)")
	cmd.Flags().Int64VarP(&opts.Key, "key", "k", 0, "key of a stored entity to fill; omit to create")
	cmd.Flags().IntVar(&opts.MaxDepth, "max-depth", engine.DefaultMaxDepth, "maximum relation nesting depth")
	cmd.Flags().StringVar(&opts.OperationID, "operation-id", "", "use this operation ID instead of a generated UUIDv7")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "run the fill and roll it back")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "write OpenTelemetry spans to stderr")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "write Prometheus metrics to stderr after the fill")
	_ = cmd.MarkFlagRequired("schema")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runFill(opts *FillOptions, args []string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.Key < 0 {
		_ = formatter.Error(ErrCodeInvalidTarget, "--key must be positive", nil)
		return NewExitError(ExitCommandError, "--key must be positive")
	}
	if opts.MaxDepth < 1 {
		_ = formatter.Error(ErrCodeInvalidTarget, "--max-depth must be at least 1", nil)
		return NewExitError(ExitCommandError, "--max-depth must be at least 1")
	}

	data, err := readInput(args, cmd.InOrStdin())
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidPayload, err.Error(), nil)
		return WrapExitError(ExitCommandError, "read payload", err)
	}
	payload, err := parsePayload(args, data)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidPayload, err.Error(), nil)
		return WrapExitError(ExitCommandError, "parse payload", err)
	}

	hash, err := ir.PayloadHash(opts.Type, ir.Key(opts.Key), payload)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidPayload, err.Error(), nil)
		return WrapExitError(ExitCommandError, "hash payload", err)
	}
	formatter.VerboseLog("payload %s", hash)

	reg, err := loadSchema(formatter, opts.Schema)
	if err != nil {
		return err
	}
	target, err := reg.Type(opts.Type)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidTarget, err.Error(), nil)
		return WrapExitError(ExitCommandError, "--type", err)
	}

	st, err := openStore(formatter, opts.Driver, opts.DB, reg)
	if err != nil {
		return err
	}
	defer st.Close()

	engOpts := []engine.Option{
		engine.WithLogger(formatter.Logger()),
		engine.WithMaxDepth(opts.MaxDepth),
	}
	if opts.OperationID != "" {
		engOpts = append(engOpts, engine.WithOperationIDs(engine.NewFixedGenerator(opts.OperationID)))
	}

	if opts.Trace {
		tp, err := tracing.NewStdoutProvider(formatter.GetErrWriter())
		if err != nil {
			return WrapExitError(ExitCommandError, "tracing", err)
		}
		defer func() { _ = tp.Shutdown(context.WithoutCancel(ctx)) }()
		engOpts = append(engOpts, engine.WithTracer(tracing.New(tp)))
	}

	var promReg *prometheus.Registry
	if opts.Metrics {
		promReg = prometheus.NewRegistry()
		rec, err := metrics.New(promReg)
		if err != nil {
			return WrapExitError(ExitCommandError, "metrics", err)
		}
		engOpts = append(engOpts, engine.WithMetrics(rec))
	}

	eng := engine.New(st, reg, engOpts...)

	var res *engine.Result
	err = st.InTx(ctx, func(tx *store.Store) error {
		txEng := eng.WithStore(tx)
		var ferr error
		if opts.Key == 0 {
			res, ferr = txEng.Create(ctx, opts.Type, payload)
		} else {
			ent, lerr := tx.FindByKey(ctx, target, ir.Key(opts.Key))
			if lerr != nil {
				return fmt.Errorf("load %s#%d: %w", opts.Type, opts.Key, lerr)
			}
			res, ferr = txEng.Fill(ctx, ent, payload)
		}
		if ferr != nil {
			return ferr
		}
		if opts.DryRun {
			return errDryRun
		}
		return nil
	})

	if promReg != nil {
		if werr := metrics.WriteText(formatter.GetErrWriter(), promReg); werr != nil {
			formatter.VerboseLog("metrics: %v", werr)
		}
	}

	if err != nil && !errors.Is(err, errDryRun) {
		return outputFillError(formatter, err)
	}

	out := FillOutput{
		Entity:      res.Entity.Type,
		Key:         res.Entity.Key,
		Fields:      res.Entity.Fields,
		OperationID: res.OperationID,
		PayloadHash: hash,
		Reports:     res.Reports,
		DryRun:      opts.DryRun,
	}
	if opts.Format == "json" {
		return formatter.Success(out)
	}

	verb := "filled"
	if opts.DryRun {
		verb = "filled (dry run, rolled back)"
	}
	fmt.Fprintf(formatter.Writer, "✓ %s %s op=%s\n", res.Entity, verb, res.OperationID)
	for _, rr := range res.Reports {
		fmt.Fprintf(formatter.Writer, "  %s %s %s\n", rr.Path, rr.Kind, harness.FormatReport(rr.Report))
	}
	return nil
}

// outputFillError reports a rejected fill. Errors the engine classified exit
// with ExitFailure; a missing --key target and raw store failures are
// command errors.
func outputFillError(formatter *OutputFormatter, err error) error {
	var fe *engine.Error
	if errors.As(err, &fe) {
		details := map[string]string{"operation_id": fe.OperationID}
		if fe.Relation != "" {
			details["relation"] = fe.Relation
		}
		if fe.Reference != "" {
			details["reference"] = fe.Reference
		}
		_ = formatter.Error(string(fe.Code), fe.Error(), details)
		return WrapExitError(ExitFailure, "fill rejected", err)
	}

	code := ErrCodeStore
	if errors.Is(err, store.ErrNotFound) {
		code = ErrCodeInvalidTarget
	}
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, "fill", err)
}
