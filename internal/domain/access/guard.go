package access

import (
	"context"

	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

// Guard resolves scopes and loads records on behalf of a scope, failing
// with Forbidden when the caller may not touch them.
type Guard struct {
	store *store.Store
}

func NewGuard(s *store.Store) *Guard {
	return &Guard{store: s}
}

// Resolve builds the scope of id: a parent's children or a clinic user's
// clinic row are loaded up front.
func (g *Guard) Resolve(ctx context.Context, id auth.Identity) (Scope, error) {
	switch store.Role(id.Role) {
	case store.RoleParent:
		kids, err := g.store.Children.ListByParent(ctx, id.UserID)
		if err != nil {
			return Scope{}, err
		}
		ids := make([]string, 0, len(kids))
		for _, k := range kids {
			ids = append(ids, k.ID)
		}
		return NewScope(id, "", ids...), nil
	case store.RoleClinic:
		clinic, err := g.store.Clinics.GetByUser(ctx, id.UserID)
		if err != nil && !apperr.IsNotFound(err) {
			return Scope{}, err
		}
		clinicID := ""
		if clinic != nil {
			clinicID = clinic.ID
		}
		return NewScope(id, clinicID), nil
	case store.RoleInsurance:
		return NewScope(id, ""), nil
	}
	return Scope{}, apperr.Forbidden("unknown role " + id.Role)
}

// FromContext resolves the scope of the authenticated caller.
func (g *Guard) FromContext(ctx context.Context) (Scope, error) {
	id, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return Scope{}, apperr.Unauthorized("authentication required")
	}
	return g.Resolve(ctx, id)
}

// ReadChild loads a child the caller may read.
func (g *Guard) ReadChild(ctx context.Context, s Scope, childID string) (*store.Child, error) {
	c, err := g.store.Children.Get(ctx, childID)
	if err != nil {
		return nil, err
	}
	if s.CanWriteChild(c) {
		return c, nil
	}
	linked, err := g.linked(ctx, s, childID)
	if err != nil {
		return nil, err
	}
	if !s.CanReadChild(c, linked) {
		return nil, apperr.Forbidden("no access to child " + childID)
	}
	return c, nil
}

// WriteChild loads a child the caller may modify.
func (g *Guard) WriteChild(ctx context.Context, s Scope, childID string) (*store.Child, error) {
	c, err := g.store.Children.Get(ctx, childID)
	if err != nil {
		return nil, err
	}
	if !s.CanWriteChild(c) {
		return nil, apperr.Forbidden("no access to child " + childID)
	}
	return c, nil
}

// linked reports whether a session or claim visible to s references childID.
func (g *Guard) linked(ctx context.Context, s Scope, childID string) (bool, error) {
	if !s.IsClinic() && !s.IsInsurance() {
		return false, nil
	}
	claims, err := g.store.Claims.ListByChild(ctx, childID)
	if err != nil {
		return false, err
	}
	if len(FilterClaims(s, claims)) > 0 {
		return true, nil
	}
	if !s.IsClinic() {
		return false, nil
	}
	sessions, err := g.store.Sessions.ListByChild(ctx, childID)
	if err != nil {
		return false, err
	}
	return len(FilterSessions(s, sessions)) > 0, nil
}
