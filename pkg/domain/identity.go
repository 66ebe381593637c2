// Package domain defines the shared vocabulary of the record-control core:
// identities, entity schemas, payloads, the error taxonomy, and the
// collaborator interfaces consumed or exposed by the core.
package domain

import "fmt"

// Identity names a single record for the lifetime of the process. The external
// ID may be empty while the record has never been persisted; the client ID
// (lid) is assigned locally at creation and never changes.
type Identity struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Lid  string `json:"lid"`
}

// HasID reports whether an external identifier has been assigned.
func (i Identity) HasID() bool { return i.ID != "" }

// Key returns the stable map key for the identity: the external ID when
// present, otherwise the client ID.
func (i Identity) Key() string {
	if i.ID != "" {
		return i.ID
	}
	return i.Lid
}

func (i Identity) String() string {
	if i.ID != "" {
		return fmt.Sprintf("%s:%s", i.Type, i.ID)
	}
	return fmt.Sprintf("%s:@lid:%s", i.Type, i.Lid)
}
