// Package access decides which records an authenticated caller may see or
// change. A Scope is resolved once per request; its predicates are pure.
//
//   - parent: own children and their intake forms, sessions, claims and
//     documents.
//   - clinic: its own clinic row, sessions and claims carrying its clinic id,
//     and read-only access to the children those rows reference.
//   - insurance: every claim and the children and clinics they reference;
//     the only write is the pending -> approved|rejected review.
package access

import (
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

// Scope is the projection of one identity onto the record graph.
type Scope struct {
	Identity auth.Identity
	// ClinicID is the clinic owned by a clinic user, or empty.
	ClinicID string

	children map[string]bool
}

// NewScope builds a scope directly. ownedChildren lists the children of a
// parent identity and is ignored for other roles.
func NewScope(id auth.Identity, clinicID string, ownedChildren ...string) Scope {
	s := Scope{Identity: id, ClinicID: clinicID, children: map[string]bool{}}
	if id.Role == string(store.RoleParent) {
		for _, c := range ownedChildren {
			s.children[c] = true
		}
	}
	return s
}

func (s Scope) Role() store.Role { return store.Role(s.Identity.Role) }
func (s Scope) UserID() string   { return s.Identity.UserID }

func (s Scope) IsParent() bool    { return s.Role() == store.RoleParent }
func (s Scope) IsClinic() bool    { return s.Role() == store.RoleClinic }
func (s Scope) IsInsurance() bool { return s.Role() == store.RoleInsurance }

// OwnsChild reports whether the caller is the parent of childID.
func (s Scope) OwnsChild(childID string) bool {
	return s.IsParent() && s.children[childID]
}

// CanWriteChild is true only for the child's parent.
func (s Scope) CanWriteChild(c *store.Child) bool {
	return s.IsParent() && c.ParentID == s.UserID()
}

// CanReadChild reports read access. linked says whether a session or claim
// visible to the caller references the child; it only matters for clinic and
// insurance callers.
func (s Scope) CanReadChild(c *store.Child, linked bool) bool {
	if s.CanWriteChild(c) {
		return true
	}
	return (s.IsClinic() || s.IsInsurance()) && linked
}

// CanAccessIntake covers reads and writes of intake forms, which stay
// private to the parent.
func (s Scope) CanAccessIntake(f *store.IntakeForm) bool {
	return s.OwnsChild(f.ChildID)
}

func (s Scope) CanReadSession(sess *store.Session) bool {
	if s.OwnsChild(sess.ChildID) {
		return true
	}
	return s.ownClinic(sess.ClinicID)
}

func (s Scope) CanWriteSession(sess *store.Session) bool {
	return s.CanReadSession(sess)
}

func (s Scope) CanReadClaim(c *store.Claim) bool {
	if s.IsInsurance() {
		return true
	}
	return s.OwnsChild(c.ChildID) || s.ownClinic(c.ClinicID)
}

// CanWriteClaim covers edits by the claim's parties. Insurance changes go
// through CanReviewClaim.
func (s Scope) CanWriteClaim(c *store.Claim) bool {
	return s.OwnsChild(c.ChildID) || s.ownClinic(c.ClinicID)
}

// CanReviewClaim allows the insurance decision on a pending claim.
func (s Scope) CanReviewClaim(c *store.Claim) bool {
	return s.IsInsurance() && c.Status == store.ClaimPending
}

// CanWriteClinic is true for the clinic user owning the row.
func (s Scope) CanWriteClinic(c *store.Clinic) bool {
	return s.IsClinic() && c.UserID == s.UserID()
}

func (s Scope) CanAccessDocument(d *store.Document) bool {
	return s.OwnsChild(d.ChildID)
}

func (s Scope) ownClinic(clinicID string) bool {
	return s.IsClinic() && s.ClinicID != "" && s.ClinicID == clinicID
}

// FilterClaims keeps the claims the caller may read.
func FilterClaims(s Scope, claims []*store.Claim) []*store.Claim {
	out := make([]*store.Claim, 0, len(claims))
	for _, c := range claims {
		if s.CanReadClaim(c) {
			out = append(out, c)
		}
	}
	return out
}

// FilterSessions keeps the sessions the caller may read.
func FilterSessions(s Scope, sessions []*store.Session) []*store.Session {
	out := make([]*store.Session, 0, len(sessions))
	for _, sess := range sessions {
		if s.CanReadSession(sess) {
			out = append(out, sess)
		}
	}
	return out
}

// FilterChildren keeps the children the caller may write, which for
// listings is the set of children it owns.
func FilterChildren(s Scope, children []*store.Child) []*store.Child {
	out := make([]*store.Child, 0, len(children))
	for _, c := range children {
		if s.CanWriteChild(c) {
			out = append(out, c)
		}
	}
	return out
}
