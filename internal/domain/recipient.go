package domain

import "github.com/google/uuid"

// Recipient is a contact eligible for campaign dispatch.
type Recipient struct {
	ID        uuid.UUID
	SourceID  uuid.UUID
	Phone     string
	Valid     bool
	FirstName string
	LastName  string
	Email     string
	Extra     map[string]string
}

// Eligible reports whether the recipient may be dispatched to.
func (r *Recipient) Eligible() bool {
	return r.Valid && r.Phone != ""
}

// Fields returns the substitution variables available to the renderer.
// Extra keys shadow the built-in fields when both are present.
func (r *Recipient) Fields() map[string]string {
	fields := map[string]string{
		"first_name": r.FirstName,
		"last_name":  r.LastName,
		"email":      r.Email,
	}
	for k, v := range r.Extra {
		fields[k] = v
	}
	return fields
}
