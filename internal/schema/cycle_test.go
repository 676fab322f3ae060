package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeCycles_DAG(t *testing.T) {
	r := mustRegistry(t, []*EntityType{
		{Name: "Post", Relations: []*Relation{{Name: "author", Kind: KindBelongsTo, Related: "User"}}},
		{Name: "User"},
	})

	assert.Empty(t, r.Warnings())
}

func TestAnalyzeCycles_SelfReference(t *testing.T) {
	r := mustRegistry(t, []*EntityType{
		{Name: "Category", Relations: []*Relation{
			{Name: "parent", Kind: KindBelongsTo, Related: "Category"},
			{Name: "children", Kind: KindHasMany, Related: "Category", ForeignKey: "parent_id"},
		}},
	})

	warnings := r.Warnings()
	assert.Len(t, warnings, 1)
	assert.Equal(t, []string{"Category", "Category"}, warnings[0].Path)
	assert.Equal(t, "warning", warnings[0].Level)
	assert.Contains(t, warnings[0].Message, "Self-referencing")
}

func TestAnalyzeCycles_MutualReference(t *testing.T) {
	r := mustRegistry(t, []*EntityType{
		{Name: "User", Relations: []*Relation{{Name: "team", Kind: KindBelongsTo, Related: "Team"}}},
		{Name: "Team", Relations: []*Relation{{Name: "members", Kind: KindHasMany, Related: "User", ForeignKey: "team_id"}}},
	})

	warnings := r.Warnings()
	assert.Len(t, warnings, 1)
	assert.Equal(t, []string{"Team", "User", "Team"}, warnings[0].Path)
	assert.Contains(t, warnings[0].Message, "Team → User → Team")
}

func TestAnalyzeCycles_SortedOutput(t *testing.T) {
	r := mustRegistry(t, []*EntityType{
		{Name: "Node", Relations: []*Relation{{Name: "next", Kind: KindBelongsTo, Related: "Node"}}},
		{Name: "Folder", Relations: []*Relation{{Name: "parent", Kind: KindBelongsTo, Related: "Folder"}}},
	})

	warnings := r.Warnings()
	assert.Len(t, warnings, 2)
	assert.Equal(t, "Folder", warnings[0].Path[0])
	assert.Equal(t, "Node", warnings[1].Path[0])
}
