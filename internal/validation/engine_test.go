package validation

import (
	"strings"
	"testing"

	"recordcore/pkg/domain"
)

func ratedSchemas(t *testing.T, ratingConstraint string) *domain.SchemaSet {
	t.Helper()
	set, err := domain.NewSchemaSet(domain.EntitySchema{
		Name: "article",
		Attributes: map[string]domain.Attribute{
			"title":  {Name: "title", Validate: `value != nil && value != ""`, Message: "title required"},
			"rating": {Name: "rating", Validate: ratingConstraint, Message: "rating out of range"},
		},
	})
	if err != nil {
		t.Fatalf("build schemas: %v", err)
	}
	return set
}

func snapshotWith(attrs map[string]any) domain.RecordSnapshot {
	return domain.RecordSnapshot{
		Identity:   domain.Identity{Type: "article", ID: "a1"},
		Attributes: attrs,
	}
}

func TestSchemaEnginePasses(t *testing.T) {
	set := ratedSchemas(t, `value == nil || (value >= 0 && value <= 5)`)
	engine, err := NewSchemaEngine(set)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	schema, _ := set.Entity("article")
	if verr := engine.Validate(schema, snapshotWith(map[string]any{"title": "x", "rating": 3})); verr != nil {
		t.Fatalf("valid snapshot rejected: %v", verr)
	}
	// An absent optional attribute passes its nil-tolerant constraint.
	if verr := engine.Validate(schema, snapshotWith(map[string]any{"title": "x"})); verr != nil {
		t.Fatalf("snapshot without optional attribute rejected: %v", verr)
	}
}

func TestSchemaEngineAggregatesFindings(t *testing.T) {
	set := ratedSchemas(t, `value == nil || (value >= 0 && value <= 5)`)
	engine, err := NewSchemaEngine(set)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	schema, _ := set.Entity("article")
	verr := engine.Validate(schema, snapshotWith(map[string]any{"rating": 9}))
	if verr == nil {
		t.Fatal("invalid snapshot must be rejected")
	}
	if got := verr.ErrorsFor("title"); len(got) != 1 || got[0] != "title required" {
		t.Fatalf("title findings: %v", got)
	}
	if got := verr.ErrorsFor("rating"); len(got) != 1 || got[0] != "rating out of range" {
		t.Fatalf("rating findings: %v", got)
	}
}

func TestSchemaEngineDefaultMessage(t *testing.T) {
	set, err := domain.NewSchemaSet(domain.EntitySchema{
		Name: "article",
		Attributes: map[string]domain.Attribute{
			"title": {Name: "title", Validate: `value != nil`},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewSchemaEngine(set)
	if err != nil {
		t.Fatal(err)
	}
	schema, _ := set.Entity("article")
	verr := engine.Validate(schema, snapshotWith(nil))
	if verr == nil {
		t.Fatal("want rejection")
	}
	if got := verr.ErrorsFor("title"); len(got) != 1 || !strings.Contains(got[0], "title") {
		t.Fatalf("default message: %v", got)
	}
}

func TestSchemaEngineRulesCanReferenceSiblingAttributes(t *testing.T) {
	set, err := domain.NewSchemaSet(domain.EntitySchema{
		Name: "article",
		Attributes: map[string]domain.Attribute{
			"title":    {Name: "title"},
			"subtitle": {Name: "subtitle", Validate: `value == nil || title != nil`, Message: "subtitle without title"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewSchemaEngine(set)
	if err != nil {
		t.Fatal(err)
	}
	schema, _ := set.Entity("article")
	if verr := engine.Validate(schema, snapshotWith(map[string]any{"title": "x", "subtitle": "y"})); verr != nil {
		t.Fatalf("consistent pair rejected: %v", verr)
	}
	verr := engine.Validate(schema, snapshotWith(map[string]any{"subtitle": "y"}))
	if verr == nil {
		t.Fatal("orphan subtitle must be rejected")
	}
}

func TestCompileRejectsMalformedConstraint(t *testing.T) {
	set, err := domain.NewSchemaSet(domain.EntitySchema{
		Name: "article",
		Attributes: map[string]domain.Attribute{
			"title": {Name: "title", Validate: `value !==`},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, cerr := NewSchemaEngine(set); cerr == nil {
		t.Fatal("malformed constraint must fail compilation")
	}
}

func TestEngineRulesOutsideEntityAreSkipped(t *testing.T) {
	set, err := domain.NewSchemaSet(
		domain.EntitySchema{
			Name:       "article",
			Attributes: map[string]domain.Attribute{"title": {Name: "title", Validate: `value != nil`}},
		},
		domain.EntitySchema{
			Name:       "person",
			Attributes: map[string]domain.Attribute{"name": {Name: "name"}},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewSchemaEngine(set)
	if err != nil {
		t.Fatal(err)
	}
	person, _ := set.Entity("person")
	snap := domain.RecordSnapshot{Identity: domain.Identity{Type: "person", ID: "p1"}}
	if verr := engine.Validate(person, snap); verr != nil {
		t.Fatalf("article rules must not apply to person: %v", verr)
	}
}
