package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fillEnv is a schema and a SQLite database file shared by the fills of one
// test.
type fillEnv struct {
	schema string
	db     string
}

func newFillEnv(t *testing.T) fillEnv {
	t.Helper()
	dir := t.TempDir()
	return fillEnv{
		schema: writeFile(t, dir, "blog.cue", blogSchema),
		db:     filepath.Join(dir, "blog.db"),
	}
}

// fill runs the fill command with payload on stdin.
func (e fillEnv) fill(t *testing.T, payload string, args ...string) (string, string, error) {
	t.Helper()
	base := []string{"fill", "--schema", e.schema, "--db", e.db, "--type", "Post"}
	return execute(t, payload, append(base, args...)...)
}

const postWithComments = `{"title": "Hello", "comments": [{"body": "first"}, {"body": "second"}]}`

func TestFillCreate(t *testing.T) {
	env := newFillEnv(t)

	out, _, err := env.fill(t, postWithComments, "--operation-id", "op-create")
	require.NoError(t, err)
	assert.Equal(t,
		"✓ Post#1 filled op=op-create\n"+
			"  Post.comments has_many attached=[1 2] created=[1 2]\n",
		out)
}

func TestFillExistingEntity(t *testing.T) {
	env := newFillEnv(t)
	_, _, err := env.fill(t, postWithComments)
	require.NoError(t, err)

	out, _, err := env.fill(t, `{"comments": [{"id": 2, "body": "edited"}]}`,
		"--key", "1", "--operation-id", "op-sync")
	require.NoError(t, err)
	assert.Equal(t,
		"✓ Post#1 filled op=op-sync\n"+
			"  Post.comments has_many detached=[1] updated=[2]\n",
		out)
}

func TestFillPayloadFromFile(t *testing.T) {
	env := newFillEnv(t)
	payload := writeFile(t, t.TempDir(), "post.json", `{"title": "From a file"}`)

	out, _, err := env.fill(t, "", "--format", "json", "--operation-id", "op-file", payload)
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Entity      string            `json:"entity"`
			Key         int64             `json:"key"`
			Fields      map[string]any    `json:"fields"`
			OperationID string            `json:"operation_id"`
			PayloadHash string            `json:"payload_hash"`
			Reports     []json.RawMessage `json:"reports"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "Post", resp.Data.Entity)
	assert.Equal(t, int64(1), resp.Data.Key)
	assert.Equal(t, "From a file", resp.Data.Fields["title"])
	assert.Equal(t, "op-file", resp.Data.OperationID)
	assert.Len(t, resp.Data.PayloadHash, 64)
	assert.Empty(t, resp.Data.Reports)
}

func TestFillPayloadFromYAMLFile(t *testing.T) {
	env := newFillEnv(t)
	payload := writeFile(t, t.TempDir(), "post.yaml", "title: From YAML\ncomments:\n  - body: one\n")

	out, _, err := env.fill(t, "", "--operation-id", "op-yaml", payload)
	require.NoError(t, err)
	assert.Equal(t,
		"✓ Post#1 filled op=op-yaml\n"+
			"  Post.comments has_many attached=[1] created=[1]\n",
		out)
}

func TestFillJSONReports(t *testing.T) {
	env := newFillEnv(t)

	out, _, err := env.fill(t, postWithComments, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data struct {
			OperationID string `json:"operation_id"`
			Reports     []struct {
				Path     string `json:"path"`
				Relation string `json:"relation"`
				Kind     string `json:"kind"`
				Report   struct {
					Attached []int64 `json:"attached"`
					Detached []int64 `json:"detached"`
					Created  []int64 `json:"created"`
					Updated  []int64 `json:"updated"`
				} `json:"report"`
			} `json:"reports"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Len(t, resp.Data.OperationID, 36, "generated IDs are UUIDs")

	require.Len(t, resp.Data.Reports, 1)
	rr := resp.Data.Reports[0]
	assert.Equal(t, "Post.comments", rr.Path)
	assert.Equal(t, "comments", rr.Relation)
	assert.Equal(t, "has_many", rr.Kind)
	assert.Equal(t, []int64{1, 2}, rr.Report.Attached)
	assert.Equal(t, []int64{1, 2}, rr.Report.Created)
	assert.Empty(t, rr.Report.Detached)
	assert.Empty(t, rr.Report.Updated)
}

func TestFillDryRunRollsBack(t *testing.T) {
	env := newFillEnv(t)

	out, _, err := env.fill(t, postWithComments, "--dry-run", "--operation-id", "op-dry")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Post#1 filled (dry run, rolled back) op=op-dry")

	out, _, err = env.fill(t, `{"title": "again"}`, "--key", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E202]")
	assert.Contains(t, out, "not found")
}

func TestFillRejected(t *testing.T) {
	env := newFillEnv(t)

	out, _, err := env.fill(t, `{"title": "Hello", "tags": [99]}`, "--operation-id", "op-bad")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [NOT_FOUND]")

	// The rejected fill left nothing behind.
	_, _, err = env.fill(t, `{"title": "again"}`, "--key", "1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFillRejectedJSON(t *testing.T) {
	env := newFillEnv(t)

	out, _, err := env.fill(t, `{"tags": [99]}`, "--format", "json", "--operation-id", "op-bad")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string            `json:"code"`
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "NOT_FOUND", resp.Error.Code)
	assert.Equal(t, "op-bad", resp.Error.Details["operation_id"])
	assert.Contains(t, resp.Error.Details["relation"], "Post.tags")
	assert.Equal(t, "99", resp.Error.Details["reference"])
}

func TestFillDeepModificationForbidden(t *testing.T) {
	env := newFillEnv(t)

	out, _, err := env.fill(t, `{"tags": [{"name": "go"}]}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [DEEP_MODIFICATION_FORBIDDEN]")
}

func TestFillCommandErrors(t *testing.T) {
	env := newFillEnv(t)

	tests := []struct {
		name    string
		payload string
		args    []string
		code    string
	}{
		{"payload_not_object", `[1, 2]`, nil, "E201"},
		{"payload_not_json", `{"title": `, nil, "E201"},
		{"unknown_type", `{}`, []string{"--type", "Author"}, "E202"},
		{"negative_key", `{}`, []string{"--key", "-1"}, "E202"},
		{"zero_depth", `{}`, []string{"--max-depth", "0"}, "E202"},
		{"unknown_driver", `{}`, []string{"--driver", "mysql"}, "E203"},
		{"missing_schema", `{}`, []string{"--schema", "/nonexistent/schema.cue"}, "E005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := env.fill(t, tt.payload, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error ["+tt.code+"]")
		})
	}
}

func TestFillRequiresSchemaAndType(t *testing.T) {
	_, _, err := execute(t, `{}`, "fill", "--db", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag(s)")
}

func TestFillMaxDepth(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "tree.cue", `package relfill

entity: Category: {
	table: "categories"
	fields: { name: string }
	relations: [
		{ name: "children", kind: "has_many", related: "Category", foreign_key: "parent_id" },
	]
}
`)
	payload := `{"name": "root", "children": [{"name": "child", "children": [{"name": "grandchild"}]}]}`
	args := []string{"fill", "--schema", schemaPath, "--db", filepath.Join(dir, "tree.db"), "--type", "Category"}

	out, _, err := execute(t, payload, append(args, "--max-depth", "1")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [MAX_DEPTH_EXCEEDED]")
	assert.Contains(t, out, "Category.children[0].children")

	out, _, err = execute(t, payload, append(args, "--max-depth", "2")...)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Category#1 filled")
}

func TestFillMetrics(t *testing.T) {
	env := newFillEnv(t)

	_, errOut, err := env.fill(t, postWithComments, "--metrics")
	require.NoError(t, err)
	assert.Contains(t, errOut, `relfill_fills_total{entity_type="Post",result="ok"} 1`)
	assert.Contains(t, errOut, `relfill_relation_writes_total{kind="has_many"} 1`)
}

func TestFillTrace(t *testing.T) {
	env := newFillEnv(t)

	out, errOut, err := env.fill(t, postWithComments, "--trace", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, errOut, "relfill.fill")
	assert.Contains(t, errOut, "relfill.relation")
	assert.True(t, json.Valid([]byte(out)), "spans stay off stdout")
}
