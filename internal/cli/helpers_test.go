package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const blogSchema = `package relfill

entity: Post: {
	table: "posts"
	fields: { title: string }
	relations: [
		{ name: "comments", kind: "has_many", related: "Comment" },
		{
			name: "tags", kind: "belongs_to_many", related: "Tag"
			pivot: { table: "post_tag", columns: { weight: int } }
		},
	]
}

entity: Comment: {
	table: "comments"
	fields: { body: string }
}

entity: Tag: {
	table: "tags"
	fields: { name: string }
}
`

// writeFile writes content to name inside dir and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeBlogSchema writes blogSchema into a fresh temp dir.
func writeBlogSchema(t *testing.T) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "blog.cue", blogSchema)
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}
