package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/relfill/internal/schema"
)

// DescribeOptions holds flags for the describe command.
type DescribeOptions struct {
	*RootOptions
	Tables bool // list physical tables instead of types
}

// TypeInfo is the resolved form of one entity type.
type TypeInfo struct {
	Name          string                      `json:"name"`
	Table         string                      `json:"table"`
	Key           string                      `json:"key"`
	Base          string                      `json:"base,omitempty"`
	Discriminator string                      `json:"discriminator,omitempty"`
	Subtypes      map[string]string           `json:"subtypes,omitempty"`
	Fields        map[string]schema.FieldType `json:"fields"`
	Relations     []RelationInfo              `json:"relations"`
}

// RelationInfo is a relation with every key qualified.
type RelationInfo struct {
	Path                  string     `json:"path"`
	Kind                  string     `json:"kind"`
	Related               string     `json:"related"`
	ForeignKey            string     `json:"foreign_key"`
	LocalKey              string     `json:"local_key"`
	Pivot                 *PivotInfo `json:"pivot,omitempty"`
	AllowDeepModification bool       `json:"allow_deep_modification"`
	Fillable              bool       `json:"fillable"`
}

// PivotInfo describes a belongs_to_many join table.
type PivotInfo struct {
	Table           string                      `json:"table"`
	ForeignPivotKey string                      `json:"foreign_pivot_key"`
	RelatedPivotKey string                      `json:"related_pivot_key"`
	Columns         map[string]schema.FieldType `json:"columns,omitempty"`
}

// TableInfo is one physical table.
type TableInfo struct {
	Name    string                      `json:"name"`
	Key     string                      `json:"key,omitempty"`
	Pivot   bool                        `json:"pivot"`
	Columns map[string]schema.FieldType `json:"columns"`
}

// DescribeResult is the output of describe. Exactly one list is set.
type DescribeResult struct {
	Types  []TypeInfo  `json:"types,omitempty"`
	Tables []TableInfo `json:"tables,omitempty"`
}

// NewDescribeCommand creates the describe command.
func NewDescribeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DescribeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "describe <schema> [type [relation]]",
		Short: "Show resolved types, relations and tables",
		Long: `Show the schema as the engine sees it: every relation with its defaults
applied and its keys qualified as table.column.

Examples:
  relfill describe schema.cue
  relfill describe schema.cue Post
  relfill describe schema.cue Post tags
  relfill describe schema.cue --tables`,
		Args:          cobra.RangeArgs(1, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Tables, "tables", false, "list physical tables, pivot tables included")

	return cmd
}

func runDescribe(opts *DescribeOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	reg, err := loadSchema(formatter, args[0])
	if err != nil {
		return err
	}

	var result DescribeResult
	switch {
	case opts.Tables:
		for _, t := range reg.Tables() {
			result.Tables = append(result.Tables, TableInfo{
				Name:    t.Name,
				Key:     t.KeyColumn,
				Pivot:   t.IsPivot(),
				Columns: t.Columns,
			})
		}
	case len(args) == 3:
		rel, err := reg.Describe(args[1], args[2])
		if err != nil {
			_ = formatter.Error(ErrCodeInvalidTarget, err.Error(), nil)
			return WrapExitError(ExitCommandError, "describe", err)
		}
		t, _ := reg.Type(args[1])
		info := typeInfo(t)
		info.Relations = []RelationInfo{relationInfo(rel)}
		result.Types = []TypeInfo{info}
	case len(args) == 2:
		t, err := reg.Type(args[1])
		if err != nil {
			_ = formatter.Error(ErrCodeInvalidTarget, err.Error(), nil)
			return WrapExitError(ExitCommandError, "describe", err)
		}
		result.Types = []TypeInfo{typeInfo(t)}
	default:
		for _, t := range reg.Types() {
			result.Types = append(result.Types, typeInfo(t))
		}
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return writeDescribeText(formatter.Writer, result)
}

func typeInfo(t *schema.EntityType) TypeInfo {
	info := TypeInfo{
		Name:          t.Name,
		Table:         t.Table,
		Key:           t.KeyColumn,
		Base:          t.Base,
		Discriminator: t.Discriminator,
		Subtypes:      t.Subtypes,
		Fields:        t.Fields,
		Relations:     []RelationInfo{},
	}
	for _, rel := range t.Relations {
		info.Relations = append(info.Relations, relationInfo(rel))
	}
	return info
}

func relationInfo(rel *schema.Relation) RelationInfo {
	info := RelationInfo{
		Path:                  rel.Path(),
		Kind:                  rel.Kind.String(),
		Related:               rel.Related,
		ForeignKey:            rel.ForeignKey,
		LocalKey:              rel.LocalKey,
		AllowDeepModification: rel.AllowDeepModification,
		Fillable:              rel.Fillable(),
	}
	if p := rel.Pivot; p != nil {
		info.Pivot = &PivotInfo{
			Table:           p.Table,
			ForeignPivotKey: p.ForeignPivotKey,
			RelatedPivotKey: p.RelatedPivotKey,
			Columns:         p.Columns,
		}
	}
	return info
}

func writeDescribeText(w io.Writer, result DescribeResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	for _, t := range result.Tables {
		kind := "table"
		if t.Pivot {
			kind = "pivot"
		}
		key := t.Key
		if key == "" {
			key = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\tkey=%s\t%s\n", t.Name, kind, key, columnList(t.Columns))
	}

	for i, t := range result.Types {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		header := fmt.Sprintf("%s (table %s, key %s)", t.Name, t.Table, t.Key)
		if t.Base != "" {
			header += " extends " + t.Base
		}
		fmt.Fprintln(tw, header)
		if len(t.Fields) > 0 {
			fmt.Fprintf(tw, "  fields: %s\n", columnList(t.Fields))
		}
		for _, r := range t.Relations {
			keys := r.ForeignKey + " -> " + r.LocalKey
			if r.Pivot != nil {
				keys = fmt.Sprintf("pivot %s(%s, %s)", r.Pivot.Table, r.Pivot.ForeignPivotKey, r.Pivot.RelatedPivotKey)
				if len(r.Pivot.Columns) > 0 {
					keys += " " + columnList(r.Pivot.Columns)
				}
			}
			var flags []string
			if r.AllowDeepModification {
				flags = append(flags, "deep")
			}
			if !r.Fillable {
				flags = append(flags, "guarded")
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", r.Path, r.Kind, r.Related, keys, strings.Join(flags, ","))
		}
	}
	return tw.Flush()
}

// columnList renders columns as "name:type" sorted by name.
func columnList(cols map[string]schema.FieldType) string {
	t := &schema.Table{Columns: cols}
	parts := make([]string, 0, len(cols))
	for _, name := range t.ColumnNames() {
		parts = append(parts, name+":"+string(cols[name]))
	}
	return strings.Join(parts, " ")
}
