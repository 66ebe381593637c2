package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"recordcore/internal/snapshot"
	"recordcore/pkg/domain"
)

// snapshotVersion is bumped when the export document shape changes.
const snapshotVersion = 1

type snapshotDocument struct {
	Version int              `json:"version"`
	TakenAt time.Time        `json:"taken_at"`
	Records []recordDocument `json:"records"`
}

type recordDocument struct {
	Type          string                 `json:"type"`
	ID            string                 `json:"id,omitempty"`
	Lid           string                 `json:"lid,omitempty"`
	State         string                 `json:"state"`
	Attributes    map[string]any         `json:"attributes,omitempty"`
	Relationships map[string]relDocument `json:"relationships,omitempty"`
}

type relDocument struct {
	Many bool           `json:"many"`
	One  *identityDoc   `json:"one,omitempty"`
	List []identityDoc  `json:"list,omitempty"`
}

type identityDoc struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Lid  string `json:"lid,omitempty"`
}

func toIdentityDoc(id domain.Identity) identityDoc {
	return identityDoc{Type: id.Type, ID: id.ID, Lid: id.Lid}
}

func (d identityDoc) identity() domain.Identity {
	return domain.Identity{Type: d.Type, ID: d.ID, Lid: d.Lid}
}

// Export serializes every loaded record into one JSON document and writes it
// under key. Lifecycle state is recorded for inspection but not restored;
// Import lands records in loaded.saved like any other canonical push.
func (s *Store) Export(ctx context.Context, archive snapshot.Archive, key string) error {
	doc := snapshotDocument{Version: snapshotVersion, TakenAt: time.Now().UTC()}

	entities := make([]string, 0, len(s.blocks))
	for entity := range s.blocks {
		entities = append(entities, entity)
	}
	sort.Strings(entities)
	for _, entity := range entities {
		blocks := s.Loaded(entity)
		sort.Slice(blocks, func(i, j int) bool {
			return blocks[i].Identity().Key() < blocks[j].Identity().Key()
		})
		for _, b := range blocks {
			if !b.CurrentState().Flags().Loaded {
				continue
			}
			snap := s.snapshotOf(b)
			rec := recordDocument{
				Type:       entity,
				ID:         b.Identity().ID,
				Lid:        b.Identity().Lid,
				State:      b.StatePath(),
				Attributes: snap.Attributes,
			}
			if len(snap.Relationships) > 0 {
				rec.Relationships = map[string]relDocument{}
				for name, data := range snap.Relationships {
					rec.Relationships[name] = toRelDocument(data)
				}
			}
			doc.Records = append(doc.Records, rec)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := archive.Put(ctx, key, data); err != nil {
		return fmt.Errorf("write snapshot %q: %w", key, err)
	}
	s.logger.Info("snapshot exported", "key", key, "records", len(doc.Records))
	return nil
}

func toRelDocument(data domain.RelationshipData) relDocument {
	if data.Many() {
		doc := relDocument{Many: true}
		for _, id := range data.List() {
			doc.List = append(doc.List, toIdentityDoc(id))
		}
		return doc
	}
	doc := relDocument{}
	if one := data.One(); one != nil {
		d := toIdentityDoc(*one)
		doc.One = &d
	}
	return doc
}

func (d relDocument) data() domain.RelationshipData {
	if d.Many {
		ids := make([]domain.Identity, len(d.List))
		for i, doc := range d.List {
			ids[i] = doc.identity()
		}
		return domain.ToManyData(ids)
	}
	if d.One == nil {
		return domain.ToOneData(nil)
	}
	id := d.One.identity()
	return domain.ToOneData(&id)
}

// Import reads a snapshot document and pushes every record as canonical
// state. Existing records merge; new identities enter the identity map.
func (s *Store) Import(ctx context.Context, archive snapshot.Archive, key string) (int, error) {
	data, err := archive.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("read snapshot %q: %w", key, err)
	}
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("decode snapshot %q: %w", key, err)
	}
	if doc.Version != snapshotVersion {
		return 0, fmt.Errorf("snapshot %q has unsupported version %d", key, doc.Version)
	}
	for _, rec := range doc.Records {
		payload := domain.Payload{
			Type:       rec.Type,
			ID:         rec.ID,
			Lid:        rec.Lid,
			Attributes: rec.Attributes,
		}
		if len(rec.Relationships) > 0 {
			payload.Relationships = map[string]domain.RelationshipData{}
			for name, rd := range rec.Relationships {
				payload.Relationships[name] = rd.data()
			}
		}
		if _, err := s.Push(payload); err != nil {
			return 0, fmt.Errorf("import record %s:%s: %w", rec.Type, rec.ID, err)
		}
	}
	s.logger.Info("snapshot imported", "key", key, "records", len(doc.Records))
	return len(doc.Records), nil
}
