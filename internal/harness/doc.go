// Package harness runs fill scenarios as executable contract tests.
//
// A scenario names a schema, seeds rows, runs create and fill steps through
// the engine, and asserts on the database afterwards. Each run uses a fresh
// in-memory SQLite database and sequential operation IDs, so the rendered
// trace is stable enough for golden file comparison.
//
// # Scenario Format
//
//	name: post_lifecycle
//	description: "Create a post with relations, then resync them"
//	schema: ../schema/blog.cue
//	seed:
//	  - type: Tag
//	    fields: { name: go }
//	steps:
//	  - create: Post
//	    payload:
//	      title: Hello
//	      tags: [1]
//	    expect:
//	      reports:
//	        Post.tags: { attached: [1] }
//	  - fill: { type: Post, key: 1 }
//	    payload:
//	      tags: [99]
//	    expect:
//	      error: NOT_FOUND
//	assertions:
//	  - type: related_keys
//	    entity: Post
//	    key: 1
//	    relation: tags
//	    keys: [1]
//
// A step without an expect clause must succeed. Every step runs in its own
// transaction, so a failing step leaves the database as it was.
//
// # Assertion Types
//
//   - row: loads an entity and compares columns (subset match)
//   - absent: checks an entity no longer exists
//   - related_keys: compares the keys associated through a relation
//   - pivot: checks a join row exists and compares its pivot attributes
//   - row_count: counts the rows of a table
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/post_lifecycle.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
