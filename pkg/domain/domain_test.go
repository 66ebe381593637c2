package domain

import (
	"fmt"
	"testing"
)

func TestIdentityKeyAndString(t *testing.T) {
	persisted := Identity{Type: "article", ID: "a1", Lid: "lid-1"}
	if !persisted.HasID() || persisted.Key() != "a1" {
		t.Fatalf("persisted identity key = %q", persisted.Key())
	}
	if got := persisted.String(); got != "article:a1" {
		t.Fatalf("persisted identity string = %q", got)
	}

	local := Identity{Type: "article", Lid: "lid-1"}
	if local.HasID() || local.Key() != "lid-1" {
		t.Fatalf("local identity key = %q", local.Key())
	}
	if got := local.String(); got != "article:@lid:lid-1" {
		t.Fatalf("local identity string = %q", got)
	}
}

func TestRelationshipDataDefinedStates(t *testing.T) {
	var undefined RelationshipData
	if undefined.Defined() {
		t.Fatal("zero value must be undefined")
	}

	null := ToOneData(nil)
	if !null.Defined() || null.One() != nil {
		t.Fatal("explicit null is defined with a nil reference")
	}
	if null.Equal(undefined) {
		t.Fatal("null and undefined are distinct")
	}

	empty := ToManyData(nil)
	if !empty.Defined() || !empty.Many() || empty.Len() != 0 {
		t.Fatal("empty list is defined with zero members")
	}
	if empty.Equal(null) {
		t.Fatal("empty list and null to-one are distinct")
	}
}

func TestRelationshipDataCopies(t *testing.T) {
	src := Identity{Type: "person", ID: "p1"}
	one := ToOneData(&src)
	src.ID = "mutated"
	if one.One().ID != "p1" {
		t.Fatal("to-one data must not alias the caller's identity")
	}
	got := one.One()
	got.ID = "mutated"
	if one.One().ID != "p1" {
		t.Fatal("accessor must hand out copies")
	}

	refs := []Identity{{Type: "tag", ID: "t1"}}
	many := ToManyData(refs)
	refs[0].ID = "mutated"
	if many.List()[0].ID != "t1" {
		t.Fatal("to-many data must not alias the caller's slice")
	}
}

func TestRelationshipDataEqual(t *testing.T) {
	a := Identity{Type: "person", ID: "p1"}
	b := Identity{Type: "person", ID: "p2"}
	cases := []struct {
		name string
		x, y RelationshipData
		want bool
	}{
		{"same reference", ToOneData(&a), ToOneData(&a), true},
		{"different reference", ToOneData(&a), ToOneData(&b), false},
		{"null vs reference", ToOneData(nil), ToOneData(&a), false},
		{"same list", ToManyData([]Identity{a, b}), ToManyData([]Identity{a, b}), true},
		{"order matters", ToManyData([]Identity{a, b}), ToManyData([]Identity{b, a}), false},
		{"length differs", ToManyData([]Identity{a}), ToManyData([]Identity{a, b}), false},
		{"one vs many", ToOneData(&a), ToManyData([]Identity{a}), false},
	}
	for _, tc := range cases {
		if got := tc.x.Equal(tc.y); got != tc.want {
			t.Errorf("%s: Equal = %v", tc.name, got)
		}
	}
}

func TestContractViolationMarker(t *testing.T) {
	violations := []error{
		UnhandledEventError{State: "root.empty", Event: "willCommit"},
		IdentityConflictError{Attempted: "a2"},
		DestroyWhileMaterializedError{},
		AlreadyDestroyedError{},
	}
	for _, err := range violations {
		if !IsContractViolation(err) {
			t.Errorf("%T must be a contract violation", err)
		}
		if !IsContractViolation(fmt.Errorf("wrapped: %w", err)) {
			t.Errorf("wrapped %T must still be detected", err)
		}
	}

	recoverable := []error{
		NotFoundError{},
		RecordUnloadedError{},
		DeletedRecordMutationError{},
		ValidationError{},
		CommitError{Operation: "update", Err: fmt.Errorf("x")},
	}
	for _, err := range recoverable {
		if IsContractViolation(err) {
			t.Errorf("%T must not be a contract violation", err)
		}
	}
}

func TestValidationErrorsFor(t *testing.T) {
	verr := ValidationError{Errors: []FieldError{
		{Field: "title", Message: "required"},
		{Field: "title", Message: "too short"},
		{Field: "rating", Message: "out of range"},
	}}
	got := verr.ErrorsFor("title")
	if len(got) != 2 || got[0] != "required" || got[1] != "too short" {
		t.Fatalf("title errors = %v", got)
	}
	if verr.ErrorsFor("body") != nil {
		t.Fatal("unknown field has no errors")
	}
}

func TestSchemaSetConstruction(t *testing.T) {
	if _, err := NewSchemaSet(EntitySchema{}); err == nil {
		t.Fatal("unnamed entity must be rejected")
	}
	if _, err := NewSchemaSet(EntitySchema{Name: "a"}, EntitySchema{Name: "a"}); err == nil {
		t.Fatal("duplicate entity must be rejected")
	}

	set, err := NewSchemaSet(EntitySchema{Name: "article", Relationships: map[string]Relationship{
		"author": {Name: "author", Kind: KindBelongsTo, Type: "person"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if rel, ok := set.RelationshipFor("article", "author"); !ok || rel.Type != "person" {
		t.Fatalf("RelationshipFor = %+v (ok=%v)", rel, ok)
	}
	if _, ok := set.RelationshipFor("ghost", "author"); ok {
		t.Fatal("unknown entity must not resolve")
	}
	// Maps are never nil after construction, even when omitted.
	article, _ := set.Entity("article")
	if article.Attributes == nil {
		t.Fatal("attributes map must be initialized")
	}
}
