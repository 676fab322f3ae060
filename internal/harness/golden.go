package harness

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/relfill/internal/engine"
	"github.com/roach88/relfill/internal/ir"
)

// Render writes the trace of a scenario run as stable, line-oriented text:
// one block per step, one line per relation report. Only non-empty key
// lists are printed.
func Render(w io.Writer, name string, result *Result) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for _, st := range result.Trace {
		fmt.Fprintf(&buf, "step %d: %s\n", st.Index, st.Op)
		if st.Error != "" {
			fmt.Fprintf(&buf, "  error %s\n", st.Error)
			continue
		}
		fmt.Fprintf(&buf, "  ok %s op=%s\n", st.Entity, st.OperationID)
		for _, rr := range st.Reports {
			fmt.Fprintf(&buf, "  %s %s %s\n", rr.Path, rr.Kind, FormatReport(rr.Report))
		}
	}
	if result.Pass {
		buf.WriteString("result: pass\n")
	} else {
		fmt.Fprintf(&buf, "result: fail (%d errors)\n", len(result.Errors))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// FormatReport renders the non-empty key lists of r, e.g.
// "attached=[3] detached=[1]", or "(no changes)".
func FormatReport(r engine.ChangeReport) string {
	var parts []string
	for _, l := range []struct {
		name string
		keys []ir.Key
	}{
		{"attached", r.Attached},
		{"detached", r.Detached},
		{"created", r.Created},
		{"updated", r.Updated},
	} {
		if len(l.keys) > 0 {
			parts = append(parts, l.name+"="+formatKeys(toInt64s(l.keys)))
		}
	}
	if len(parts) == 0 {
		return "(no changes)"
	}
	return strings.Join(parts, " ")
}

// RunWithGolden executes a scenario and compares the rendered trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario cannot run. Test failure (via goldie)
// occurs if the trace doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	var buf bytes.Buffer
	if err := Render(&buf, scenarioName, result); err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, buf.Bytes())
	return nil
}
