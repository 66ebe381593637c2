package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"recordcore/pkg/domain"
)

const validDoc = `
entities:
  - name: article
    attributes:
      - name: title
        validate: value != nil && value != ""
        message: title required
      - name: rating
        default: 0
    relationships:
      - name: author
        kind: belongsTo
        type: person
      - name: comments
        kind: hasMany
        type: comment
        inverse: article
        async: true
  - name: person
    attributes:
      - name: name
  - name: comment
    attributes:
      - name: body
    relationships:
      - name: article
        kind: belongsTo
        type: article
        inverse: comments
`

func TestLoadValidDocument(t *testing.T) {
	set, err := Load(strings.NewReader(validDoc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	article, ok := set.Entity("article")
	if !ok {
		t.Fatal("article schema missing")
	}
	title := article.Attributes["title"]
	if title.Validate == "" || title.Message != "title required" {
		t.Fatalf("title attribute = %+v", title)
	}
	if article.Attributes["rating"].Default != 0 {
		t.Fatalf("rating default = %v", article.Attributes["rating"].Default)
	}
	comments, ok := article.Relationship("comments")
	if !ok || comments.Kind != domain.KindHasMany || !comments.Async || comments.Inverse != "article" {
		t.Fatalf("comments relationship = %+v", comments)
	}
	author, _ := article.Relationship("author")
	if author.Kind != domain.KindBelongsTo || author.Async {
		t.Fatalf("author relationship = %+v", author)
	}
}

func TestLoadRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", `entities: []`, "no entities"},
		{
			"unknown kind",
			"entities:\n  - name: a\n    relationships:\n      - {name: r, kind: hasOne, type: a}\n",
			"unknown kind",
		},
		{
			"missing target type",
			"entities:\n  - name: a\n    relationships:\n      - {name: r, kind: belongsTo, type: \"\"}\n",
			"no target type",
		},
		{
			"unknown target entity",
			"entities:\n  - name: a\n    relationships:\n      - {name: r, kind: belongsTo, type: ghost}\n",
			"unknown entity",
		},
		{
			"missing inverse",
			"entities:\n  - name: a\n    relationships:\n      - {name: r, kind: belongsTo, type: b, inverse: back}\n  - name: b\n",
			"inverse",
		},
		{
			"duplicate attribute",
			"entities:\n  - name: a\n    attributes:\n      - name: x\n      - name: x\n",
			"twice",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc))
			if err == nil {
				t.Fatal("want error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadAllowsPolymorphicTarget(t *testing.T) {
	doc := "entities:\n  - name: a\n    relationships:\n      - {name: r, kind: belongsTo, type: anything, polymorphic: true}\n"
	if _, err := Load(strings.NewReader(doc)); err != nil {
		t.Fatalf("polymorphic relationship must skip target checks: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(validDoc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err != nil {
		t.Fatalf("load file: %v", err)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file must fail")
	}
}
