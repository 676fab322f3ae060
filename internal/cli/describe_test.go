package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type describeResponse struct {
	Status string         `json:"status"`
	Data   DescribeResult `json:"data"`
	Error  *CLIError      `json:"error"`
}

func describeJSON(t *testing.T, args ...string) describeResponse {
	t.Helper()
	out, _, err := execute(t, "", append([]string{"--format", "json", "describe"}, args...)...)
	require.NoError(t, err)

	var resp describeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp
}

func TestDescribeAllTypesText(t *testing.T) {
	path := writeBlogSchema(t)

	out, _, err := execute(t, "", "describe", path)
	require.NoError(t, err)

	assert.Contains(t, out, "Comment (table comments, key id)")
	assert.Contains(t, out, "Post (table posts, key id)")
	assert.Contains(t, out, "Tag (table tags, key id)")
	assert.Contains(t, out, "  fields: title:string\n")
	assert.Contains(t, out, "comments.post_id -> posts.id")
	assert.Contains(t, out, "pivot post_tag(post_tag.post_id, post_tag.tag_id) weight:int")
	assert.Less(t, strings.Index(out, "Comment ("), strings.Index(out, "Post ("), "types are sorted by name")
}

func TestDescribeType(t *testing.T) {
	path := writeBlogSchema(t)

	resp := describeJSON(t, path, "Post")
	require.Len(t, resp.Data.Types, 1)
	post := resp.Data.Types[0]
	assert.Equal(t, "Post", post.Name)
	assert.Equal(t, "posts", post.Table)
	assert.Equal(t, "id", post.Key)
	assert.Empty(t, resp.Data.Tables)

	require.Len(t, post.Relations, 2, "relations keep declaration order")
	comments, tags := post.Relations[0], post.Relations[1]

	assert.Equal(t, "Post.comments", comments.Path)
	assert.Equal(t, "has_many", comments.Kind)
	assert.Equal(t, "Comment", comments.Related)
	assert.Equal(t, "comments.post_id", comments.ForeignKey)
	assert.Equal(t, "posts.id", comments.LocalKey)
	assert.Nil(t, comments.Pivot)
	assert.False(t, comments.AllowDeepModification)
	assert.True(t, comments.Fillable)

	assert.Equal(t, "Post.tags", tags.Path)
	assert.Equal(t, "belongs_to_many", tags.Kind)
	require.NotNil(t, tags.Pivot)
	assert.Equal(t, "post_tag", tags.Pivot.Table)
	assert.Equal(t, "post_tag.post_id", tags.Pivot.ForeignPivotKey)
	assert.Equal(t, "post_tag.tag_id", tags.Pivot.RelatedPivotKey)
	assert.Equal(t, "int", string(tags.Pivot.Columns["weight"]))
}

func TestDescribeGuardedRelation(t *testing.T) {
	path := writeFile(t, t.TempDir(), "audit.cue", `package relfill

entity: User: { fields: { name: string } }
entity: Post: {
	fields: { title: string }
	relations: [
		{ name: "auditor", kind: "belongs_to", related: "User", fillable: false },
	]
}
`)

	resp := describeJSON(t, path, "Post", "auditor")
	require.Len(t, resp.Data.Types, 1)
	require.Len(t, resp.Data.Types[0].Relations, 1)
	assert.False(t, resp.Data.Types[0].Relations[0].Fillable)

	out, _, err := execute(t, "", "describe", path, "Post")
	require.NoError(t, err)
	assert.Contains(t, out, "guarded")
}

func TestDescribeRelation(t *testing.T) {
	path := writeBlogSchema(t)

	resp := describeJSON(t, path, "Post", "tags")
	require.Len(t, resp.Data.Types, 1)
	require.Len(t, resp.Data.Types[0].Relations, 1)
	assert.Equal(t, "Post.tags", resp.Data.Types[0].Relations[0].Path)
}

func TestDescribeTables(t *testing.T) {
	path := writeBlogSchema(t)

	resp := describeJSON(t, path, "--tables")
	assert.Empty(t, resp.Data.Types)
	require.Len(t, resp.Data.Tables, 4)

	names := make([]string, len(resp.Data.Tables))
	for i, tbl := range resp.Data.Tables {
		names[i] = tbl.Name
	}
	assert.Equal(t, []string{"comments", "post_tag", "posts", "tags"}, names)

	pivot := resp.Data.Tables[1]
	assert.True(t, pivot.Pivot)
	assert.Empty(t, pivot.Key)
	assert.Contains(t, pivot.Columns, "post_id")
	assert.Contains(t, pivot.Columns, "tag_id")
	assert.Contains(t, pivot.Columns, "weight")

	comments := resp.Data.Tables[0]
	assert.False(t, comments.Pivot)
	assert.Equal(t, "id", comments.Key)
	assert.Contains(t, comments.Columns, "post_id", "has_many implies the foreign key column")
}

func TestDescribeTablesText(t *testing.T) {
	path := writeBlogSchema(t)

	out, _, err := execute(t, "", "describe", path, "--tables")
	require.NoError(t, err)
	assert.Contains(t, out, "key=-")
	assert.Contains(t, out, "weight:int")
}

func TestDescribeUnknownTarget(t *testing.T) {
	path := writeBlogSchema(t)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown_type", []string{"describe", path, "Author"}},
		{"unknown_relation", []string{"describe", path, "Post", "author"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, "", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "Error [E202]")
		})
	}
}

func TestDescribeMissingSchema(t *testing.T) {
	out, _, err := execute(t, "", "describe", "/nonexistent/schema.cue")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}
