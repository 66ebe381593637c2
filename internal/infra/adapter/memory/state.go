package memory

import "recordcore/pkg/domain"

// Snapshot is the JSON-serializable image of the adapter's full state, keyed
// by entity type, then external id. The SQL-backed adapters persist it after
// every successful write.
type Snapshot map[string]map[string]RecordDoc

// RecordDoc is one stored record in a Snapshot.
type RecordDoc struct {
	Attributes map[string]any     `json:"attributes,omitempty"`
	Links      map[string]LinkDoc `json:"links,omitempty"`
}

// LinkDoc is the serialized form of one relationship link.
type LinkDoc struct {
	Many bool          `json:"many"`
	One  *IdentityDoc  `json:"one,omitempty"`
	List []IdentityDoc `json:"list,omitempty"`
}

// IdentityDoc is a serialized record identity.
type IdentityDoc struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Lid  string `json:"lid,omitempty"`
}

func toLinkDoc(d domain.RelationshipData) LinkDoc {
	if d.Many() {
		doc := LinkDoc{Many: true}
		for _, id := range d.List() {
			doc.List = append(doc.List, IdentityDoc{Type: id.Type, ID: id.ID, Lid: id.Lid})
		}
		return doc
	}
	doc := LinkDoc{}
	if one := d.One(); one != nil {
		doc.One = &IdentityDoc{Type: one.Type, ID: one.ID, Lid: one.Lid}
	}
	return doc
}

func (d LinkDoc) data() domain.RelationshipData {
	if d.Many {
		ids := make([]domain.Identity, len(d.List))
		for i, doc := range d.List {
			ids[i] = domain.Identity{Type: doc.Type, ID: doc.ID, Lid: doc.Lid}
		}
		return domain.ToManyData(ids)
	}
	if d.One == nil {
		return domain.ToOneData(nil)
	}
	return domain.ToOneData(&domain.Identity{Type: d.One.Type, ID: d.One.ID, Lid: d.One.Lid})
}

// ExportState copies the adapter's full state into a Snapshot.
func (a *Adapter) ExportState() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := Snapshot{}
	for entity, byID := range a.records {
		docs := map[string]RecordDoc{}
		for id, rec := range byID {
			doc := RecordDoc{Attributes: map[string]any{}}
			for k, v := range rec.attributes {
				doc.Attributes[k] = v
			}
			if len(rec.links) > 0 {
				doc.Links = map[string]LinkDoc{}
				for k, d := range rec.links {
					doc.Links[k] = toLinkDoc(d)
				}
			}
			docs[id] = doc
		}
		out[entity] = docs
	}
	return out
}

// ImportState replaces the adapter's state with the Snapshot contents.
func (a *Adapter) ImportState(s Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = map[string]map[string]*storedRecord{}
	for entity, docs := range s {
		for id, doc := range docs {
			rec := a.ensure(entity, id)
			for k, v := range doc.Attributes {
				rec.attributes[k] = v
			}
			for k, d := range doc.Links {
				rec.links[k] = d.data()
			}
		}
	}
}
