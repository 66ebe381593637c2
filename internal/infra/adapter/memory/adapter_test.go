package memory

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"recordcore/pkg/domain"
)

func articleSchema() domain.EntitySchema {
	return domain.EntitySchema{
		Name:       "article",
		Attributes: map[string]domain.Attribute{"title": {Name: "title"}},
		Relationships: map[string]domain.Relationship{
			"comments": {Name: "comments", Kind: domain.KindHasMany, Type: "comment", Inverse: "article"},
		},
	}
}

func commentSchema() domain.EntitySchema {
	return domain.EntitySchema{
		Name:       "comment",
		Attributes: map[string]domain.Attribute{"body": {Name: "body"}},
		Relationships: map[string]domain.Relationship{
			"article": {Name: "article", Kind: domain.KindBelongsTo, Type: "article", Inverse: "comments"},
		},
	}
}

func TestFindRecordAfterSeed(t *testing.T) {
	a := New()
	a.Seed(domain.Payload{Type: "article", ID: "a1", Attributes: map[string]any{"title": "x"}})

	p, err := a.FindRecord(context.Background(), articleSchema(), domain.Identity{Type: "article", ID: "a1"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.ID != "a1" || p.Attributes["title"] != "x" {
		t.Fatalf("payload = %+v", p)
	}

	_, err = a.FindRecord(context.Background(), articleSchema(), domain.Identity{Type: "article", ID: "ghost"})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

func TestSaveRecordCreateAssignsID(t *testing.T) {
	a := New()
	snap := domain.RecordSnapshot{
		Identity:   domain.Identity{Type: "article", Lid: "lid-1"},
		Attributes: map[string]any{"title": "draft"},
	}
	p, err := a.SaveRecord(context.Background(), articleSchema(), domain.SaveCreate, snap)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p == nil || p.ID == "" {
		t.Fatal("create must assign a server id")
	}
	got, err := a.FindRecord(context.Background(), articleSchema(), domain.Identity{Type: "article", ID: p.ID})
	if err != nil {
		t.Fatalf("find created: %v", err)
	}
	if got.Attributes["title"] != "draft" {
		t.Fatalf("created attributes = %v", got.Attributes)
	}
}

func TestSaveRecordUpdateAndDelete(t *testing.T) {
	a := New()
	a.Seed(domain.Payload{Type: "article", ID: "a1", Attributes: map[string]any{"title": "x"}})
	id := domain.Identity{Type: "article", ID: "a1"}

	p, err := a.SaveRecord(context.Background(), articleSchema(), domain.SaveUpdate, domain.RecordSnapshot{
		Identity:   id,
		Attributes: map[string]any{"title": "y"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.Attributes["title"] != "y" {
		t.Fatalf("updated payload = %+v", p)
	}

	// Updating an absent record fails.
	_, err = a.SaveRecord(context.Background(), articleSchema(), domain.SaveUpdate, domain.RecordSnapshot{
		Identity: domain.Identity{Type: "article", ID: "ghost"},
	})
	var nf domain.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want NotFoundError, got %v", err)
	}

	// Deletes are idempotent.
	for i := 0; i < 2; i++ {
		if _, err := a.SaveRecord(context.Background(), articleSchema(), domain.SaveDelete, domain.RecordSnapshot{Identity: id}); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
	if _, err := a.FindRecord(context.Background(), articleSchema(), id); err == nil {
		t.Fatal("deleted record must not be found")
	}
}

func TestFindBelongsToFromStoredLink(t *testing.T) {
	a := New()
	a.Seed(domain.Payload{
		Type: "comment", ID: "c1",
		Relationships: map[string]domain.RelationshipData{
			"article": domain.ToOneData(&domain.Identity{Type: "article", ID: "a1"}),
		},
	})
	id, err := a.FindBelongsTo(context.Background(), commentSchema(), domain.Identity{Type: "comment", ID: "c1"}, commentSchema().Relationships["article"])
	if err != nil {
		t.Fatalf("belongsTo: %v", err)
	}
	if id == nil || id.ID != "a1" {
		t.Fatalf("link = %v", id)
	}
}

func TestFindHasManyInverseScan(t *testing.T) {
	a := New()
	link := func(id string) map[string]domain.RelationshipData {
		return map[string]domain.RelationshipData{
			"article": domain.ToOneData(&domain.Identity{Type: "article", ID: id}),
		}
	}
	a.Seed(
		domain.Payload{Type: "article", ID: "a1"},
		domain.Payload{Type: "comment", ID: "c2", Relationships: link("a1")},
		domain.Payload{Type: "comment", ID: "c1", Relationships: link("a1")},
		domain.Payload{Type: "comment", ID: "c3", Relationships: link("other")},
	)
	ids, err := a.FindHasMany(context.Background(), articleSchema(), domain.Identity{Type: "article", ID: "a1"}, articleSchema().Relationships["comments"])
	if err != nil {
		t.Fatalf("hasMany: %v", err)
	}
	want := []domain.Identity{{Type: "comment", ID: "c1"}, {Type: "comment", ID: "c2"}}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("inverse scan = %v", ids)
	}
}

func TestFindHasManyPrefersStoredLink(t *testing.T) {
	a := New()
	a.Seed(domain.Payload{
		Type: "article", ID: "a1",
		Relationships: map[string]domain.RelationshipData{
			"comments": domain.ToManyData([]domain.Identity{{Type: "comment", ID: "c9"}}),
		},
	})
	ids, err := a.FindHasMany(context.Background(), articleSchema(), domain.Identity{Type: "article", ID: "a1"}, articleSchema().Relationships["comments"])
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0].ID != "c9" {
		t.Fatalf("stored link must win over the inverse scan: %v", ids)
	}
}

func TestExportImportStateRoundTrip(t *testing.T) {
	a := New()
	a.Seed(
		domain.Payload{Type: "article", ID: "a1", Attributes: map[string]any{"title": "x"},
			Relationships: map[string]domain.RelationshipData{
				"comments": domain.ToManyData([]domain.Identity{{Type: "comment", ID: "c1"}}),
			}},
		domain.Payload{Type: "comment", ID: "c1", Attributes: map[string]any{"body": "one"}},
	)
	snap := a.ExportState()

	b := New()
	b.ImportState(snap)
	p, err := b.FindRecord(context.Background(), articleSchema(), domain.Identity{Type: "article", ID: "a1"})
	if err != nil {
		t.Fatalf("find after import: %v", err)
	}
	if p.Attributes["title"] != "x" {
		t.Fatalf("imported attributes = %v", p.Attributes)
	}
	link, ok := p.Relationships["comments"]
	if !ok || !link.Many() || len(link.List()) != 1 {
		t.Fatalf("imported link = %+v", link)
	}
}
