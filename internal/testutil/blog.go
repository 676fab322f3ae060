// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"testing"

	"github.com/roach88/relfill/internal/schema"
)

// BlogSchema is the CUE schema most tests run against. It exercises every
// relation kind, a self-referencing has_many, an inverse many-to-many sharing
// one pivot table, a deep-modifiable many-to-many and single-table
// inheritance.
const BlogSchema = `package relfill

entity: User: {
	table: "users"
	fields: { name: string, email: string }
	relations: [
		{ name: "profile", kind: "has_one", related: "Profile" },
		{ name: "posts", kind: "has_many", related: "Post", foreign_key: "author_id" },
		{ name: "vehicles", kind: "has_many", related: "Vehicle", foreign_key: "owner_id" },
	]
}

entity: Profile: {
	table: "profiles"
	fields: { bio: string }
	relations: [
		{ name: "user", kind: "belongs_to", related: "User" },
	]
}

entity: Post: {
	table: "posts"
	fields: { title: string, views: int, published: bool }
	relations: [
		{ name: "author", kind: "belongs_to", related: "User" },
		{ name: "comments", kind: "has_many", related: "Comment" },
		{
			name: "tags", kind: "belongs_to_many", related: "Tag"
			pivot: { table: "post_tag", columns: { weight: int } }
		},
		{
			name: "editors", kind: "belongs_to_many", related: "User"
			allow_deep_modification: true
			pivot: { table: "post_editor" }
		},
	]
}

entity: Comment: {
	table: "comments"
	fields: { body: string }
	relations: [
		{ name: "author", kind: "belongs_to", related: "User", allow_deep_modification: true },
		{ name: "replies", kind: "has_many", related: "Comment", foreign_key: "parent_id" },
	]
}

entity: Tag: {
	table: "tags"
	fields: { name: string }
	relations: [
		{ name: "posts", kind: "belongs_to_many", related: "Post", pivot: { table: "post_tag" } },
	]
}

entity: Vehicle: {
	table: "vehicles"
	fields: { name: string }
	discriminator: "kind"
	subtypes: { car: "Car", truck: "Truck" }
	relations: [
		{ name: "owner", kind: "belongs_to", related: "User" },
	]
}

entity: Car: {
	extends: "Vehicle"
	fields: { doors: int }
}

entity: Truck: {
	extends: "Vehicle"
	fields: { payload: int }
}
`

// BlogRegistry compiles BlogSchema, failing the test on error.
func BlogRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	r, err := schema.CompileString("blog.cue", BlogSchema)
	if err != nil {
		t.Fatalf("compile blog schema: %v", err)
	}
	return r
}

// MustType returns the named type of r, failing the test if it is missing.
func MustType(t testing.TB, r *schema.Registry, name string) *schema.EntityType {
	t.Helper()
	et, err := r.Type(name)
	if err != nil {
		t.Fatalf("type %s: %v", name, err)
	}
	return et
}

// MustRelation returns the named relation, failing the test if it is missing.
func MustRelation(t testing.TB, r *schema.Registry, typeName, relation string) *schema.Relation {
	t.Helper()
	rel, err := r.Describe(typeName, relation)
	if err != nil {
		t.Fatalf("relation %s.%s: %v", typeName, relation, err)
	}
	return rel
}
