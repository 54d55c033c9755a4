package access

import (
	"context"
	"testing"
	"time"

	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

var (
	parent    = auth.Identity{UserID: "parent-1", Role: "parent"}
	other     = auth.Identity{UserID: "parent-2", Role: "parent"}
	clinic    = auth.Identity{UserID: "clinic-user", Role: "clinic"}
	insurance = auth.Identity{UserID: "ins-user", Role: "insurance"}
)

func TestScope_ChildPredicates(t *testing.T) {
	child := &store.Child{ID: "c1", ParentID: "parent-1"}

	tests := []struct {
		name   string
		scope  Scope
		linked bool
		read   bool
		write  bool
	}{
		{"owner", NewScope(parent, "", "c1"), false, true, true},
		{"other parent", NewScope(other, ""), false, false, false},
		{"other parent linked flag ignored", NewScope(other, ""), true, false, false},
		{"clinic unlinked", NewScope(clinic, "clinic-1"), false, false, false},
		{"clinic linked", NewScope(clinic, "clinic-1"), true, true, false},
		{"insurance linked", NewScope(insurance, ""), true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.CanReadChild(child, tt.linked); got != tt.read {
				t.Errorf("CanReadChild = %v, want %v", got, tt.read)
			}
			if got := tt.scope.CanWriteChild(child); got != tt.write {
				t.Errorf("CanWriteChild = %v, want %v", got, tt.write)
			}
		})
	}
}

func TestScope_ClaimPredicates(t *testing.T) {
	pending := &store.Claim{ChildID: "c1", ClinicID: "clinic-1", Status: store.ClaimPending}
	approved := &store.Claim{ChildID: "c1", ClinicID: "clinic-1", Status: store.ClaimApproved}

	tests := []struct {
		name   string
		scope  Scope
		read   bool
		write  bool
		review bool
	}{
		{"owner", NewScope(parent, "", "c1"), true, true, false},
		{"other parent", NewScope(other, "", "c9"), false, false, false},
		{"own clinic", NewScope(clinic, "clinic-1"), true, true, false},
		{"other clinic", NewScope(clinic, "clinic-2"), false, false, false},
		{"clinic without row", NewScope(clinic, ""), false, false, false},
		{"insurance", NewScope(insurance, ""), true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.scope.CanReadClaim(pending); got != tt.read {
				t.Errorf("CanReadClaim = %v, want %v", got, tt.read)
			}
			if got := tt.scope.CanWriteClaim(pending); got != tt.write {
				t.Errorf("CanWriteClaim = %v, want %v", got, tt.write)
			}
			if got := tt.scope.CanReviewClaim(pending); got != tt.review {
				t.Errorf("CanReviewClaim = %v, want %v", got, tt.review)
			}
			if tt.scope.CanReviewClaim(approved) {
				t.Error("a reviewed claim cannot be reviewed again")
			}
		})
	}
}

func TestScope_SessionAndIntake(t *testing.T) {
	sess := &store.Session{ChildID: "c1", ClinicID: "clinic-1"}
	form := &store.IntakeForm{ChildID: "c1"}
	doc := &store.Document{ChildID: "c1"}

	owner := NewScope(parent, "", "c1")
	if !owner.CanReadSession(sess) || !owner.CanWriteSession(sess) || !owner.CanAccessIntake(form) || !owner.CanAccessDocument(doc) {
		t.Error("owner should reach every child-side row")
	}

	cl := NewScope(clinic, "clinic-1")
	if !cl.CanReadSession(sess) {
		t.Error("clinic should read its sessions")
	}
	if cl.CanAccessIntake(form) || cl.CanAccessDocument(doc) {
		t.Error("intake forms and documents are private to the parent")
	}

	ins := NewScope(insurance, "")
	if ins.CanReadSession(sess) {
		t.Error("insurance does not read sessions")
	}
}

func TestScope_ParentChildrenIgnoredForOtherRoles(t *testing.T) {
	s := NewScope(clinic, "clinic-1", "c1")
	if s.OwnsChild("c1") {
		t.Error("only parents own children")
	}
}

func TestScope_Clinic(t *testing.T) {
	row := &store.Clinic{ID: "clinic-1", UserID: "clinic-user"}
	if !NewScope(clinic, "clinic-1").CanWriteClinic(row) {
		t.Error("clinic user should write own clinic")
	}
	if NewScope(parent, "").CanWriteClinic(row) {
		t.Error("parents cannot write clinics")
	}
}

func TestFilters(t *testing.T) {
	claims := []*store.Claim{
		{ID: "a", ChildID: "c1", ClinicID: "clinic-1"},
		{ID: "b", ChildID: "c2", ClinicID: "clinic-2"},
	}
	if got := FilterClaims(NewScope(parent, "", "c1"), claims); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("parent filter: %v", got)
	}
	if got := FilterClaims(NewScope(clinic, "clinic-2"), claims); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("clinic filter: %v", got)
	}
	if got := FilterClaims(NewScope(insurance, ""), claims); len(got) != 2 {
		t.Errorf("insurance sees every claim, got %d", len(got))
	}
	if got := FilterClaims(NewScope(other, ""), nil); got == nil || len(got) != 0 {
		t.Error("expected empty non-nil slice")
	}

	sessions := []*store.Session{{ID: "s1", ChildID: "c1", ClinicID: "clinic-1"}, {ID: "s2", ChildID: "c2", ClinicID: "clinic-1"}}
	if got := FilterSessions(NewScope(parent, "", "c1"), sessions); len(got) != 1 {
		t.Errorf("parent sessions: %d", len(got))
	}
	if got := FilterSessions(NewScope(clinic, "clinic-1"), sessions); len(got) != 2 {
		t.Errorf("clinic sessions: %d", len(got))
	}

	children := []*store.Child{{ID: "c1", ParentID: "parent-1"}, {ID: "c2", ParentID: "parent-2"}}
	if got := FilterChildren(NewScope(parent, "", "c1"), children); len(got) != 1 || got[0].ID != "c1" {
		t.Errorf("children filter: %v", got)
	}
}

func newGuardFixture(t *testing.T) (*Guard, *store.Store, *store.Child) {
	t.Helper()
	s := store.NewMemoryStore(func() time.Time { return time.Date(2024, 3, 12, 9, 0, 0, 0, time.Local) }).Store()
	ctx := context.Background()

	_ = s.Clinics.Create(ctx, &store.Clinic{UserID: "clinic-user", Name: "Sunshine", Specialization: "OT", Address: "1 Main St"})
	child := &store.Child{ParentID: "parent-1", Name: "Emma", DateOfBirth: time.Date(2018, 5, 15, 0, 0, 0, 0, time.UTC)}
	if err := s.Children.Create(ctx, child); err != nil {
		t.Fatal(err)
	}
	return NewGuard(s), s, child
}

func TestGuard_Resolve(t *testing.T) {
	g, s, child := newGuardFixture(t)
	ctx := context.Background()

	sc, err := g.Resolve(ctx, parent)
	if err != nil || !sc.OwnsChild(child.ID) {
		t.Fatalf("parent scope should own %s: %v", child.ID, err)
	}

	sc, err = g.Resolve(ctx, clinic)
	if err != nil {
		t.Fatal(err)
	}
	row, _ := s.Clinics.GetByUser(ctx, "clinic-user")
	if sc.ClinicID != row.ID {
		t.Errorf("expected clinic id %s, got %s", row.ID, sc.ClinicID)
	}

	sc, err = g.Resolve(ctx, auth.Identity{UserID: "new-clinic", Role: "clinic"})
	if err != nil || sc.ClinicID != "" {
		t.Errorf("clinic user without a row resolves to an empty clinic id: %v", err)
	}

	if _, err := g.Resolve(ctx, auth.Identity{UserID: "x", Role: "admin"}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden for unknown role, got %v", err)
	}
}

func TestGuard_FromContext(t *testing.T) {
	g, _, _ := newGuardFixture(t)
	if _, err := g.FromContext(context.Background()); apperr.KindOf(err) != apperr.KindUnauthorized {
		t.Errorf("expected unauthorized, got %v", err)
	}
	ctx := auth.WithIdentity(context.Background(), insurance)
	sc, err := g.FromContext(ctx)
	if err != nil || !sc.IsInsurance() {
		t.Errorf("expected insurance scope, got %v", err)
	}
}

func TestGuard_ReadChild(t *testing.T) {
	g, s, child := newGuardFixture(t)
	ctx := context.Background()

	owner, _ := g.Resolve(ctx, parent)
	if _, err := g.ReadChild(ctx, owner, child.ID); err != nil {
		t.Errorf("owner read: %v", err)
	}

	stranger, _ := g.Resolve(ctx, other)
	if _, err := g.ReadChild(ctx, stranger, child.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}

	cl, _ := g.Resolve(ctx, clinic)
	if _, err := g.ReadChild(ctx, cl, child.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("unlinked clinic: expected forbidden, got %v", err)
	}
	_ = s.Sessions.Create(ctx, &store.Session{ChildID: child.ID, ClinicID: cl.ClinicID, SessionType: "OT", ScheduledDate: time.Now()})
	if _, err := g.ReadChild(ctx, cl, child.ID); err != nil {
		t.Errorf("linked clinic read: %v", err)
	}
	if _, err := g.WriteChild(ctx, cl, child.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("clinic write: expected forbidden, got %v", err)
	}

	ins, _ := g.Resolve(ctx, insurance)
	if _, err := g.ReadChild(ctx, ins, child.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("insurance without claim: expected forbidden, got %v", err)
	}
	_ = s.Claims.Create(ctx, &store.Claim{ClaimNumber: "N-1", ChildID: child.ID, ClinicID: cl.ClinicID, Amount: "10.00", Period: "Mar"})
	if _, err := g.ReadChild(ctx, ins, child.ID); err != nil {
		t.Errorf("insurance linked read: %v", err)
	}

	if _, err := g.ReadChild(ctx, owner, "missing"); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}
