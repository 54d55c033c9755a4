package children

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

func str(s string) *string { return &s }

func newTestService(t *testing.T) (*Service, *store.Store, *access.Guard) {
	t.Helper()
	s := store.NewMemoryStore(time.Now).Store()
	g := access.NewGuard(s)
	return NewService(s.Children, g, zerolog.Nop()), s, g
}

func scopeFor(t *testing.T, g *access.Guard, id auth.Identity) access.Scope {
	t.Helper()
	sc, err := g.Resolve(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return sc
}

var (
	parentUser = auth.Identity{UserID: "parent-1", Role: "parent"}
	otherUser  = auth.Identity{UserID: "parent-2", Role: "parent"}
	clinicUser = auth.Identity{UserID: "clinic-1", Role: "clinic"}
)

func TestCreate(t *testing.T) {
	svc, _, g := newTestService(t)
	c, err := svc.Create(context.Background(), scopeFor(t, g, parentUser), Input{
		Name:             str(" Emma "),
		DateOfBirth:      str("2018-05-15"),
		CurrentDiagnosis: str("ASD"),
		DiagnosisDate:    str("2021-03-10"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.ID == "" || c.ParentID != "parent-1" || c.Name != "Emma" || c.NDISStatus != store.NDISPending {
		t.Errorf("unexpected child %+v", c)
	}
	if c.DiagnosisDate == nil || c.DiagnosisDate.Format("2006-01-02") != "2021-03-10" {
		t.Errorf("unexpected diagnosis date %v", c.DiagnosisDate)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, g := newTestService(t)
	sc := scopeFor(t, g, parentUser)
	tests := []struct {
		name  string
		in    Input
		field string
	}{
		{"missing name", Input{DateOfBirth: str("2018-05-15")}, "name"},
		{"missing birth date", Input{Name: str("Emma")}, "dateOfBirth"},
		{"bad birth date", Input{Name: str("Emma"), DateOfBirth: str("May 2018")}, "dateOfBirth"},
		{"bad status", Input{Name: str("Emma"), DateOfBirth: str("2018-05-15"), NDISStatus: str("maybe")}, "ndisStatus"},
		{"diagnosis without date", Input{Name: str("Emma"), DateOfBirth: str("2018-05-15"), CurrentDiagnosis: str("ASD")}, "diagnosisDate"},
		{"bad diagnosis date", Input{Name: str("Emma"), DateOfBirth: str("2018-05-15"), CurrentDiagnosis: str("ASD"), DiagnosisDate: str("last spring")}, "diagnosisDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), sc, tt.in)
			ae, ok := err.(*apperr.Error)
			if !ok || ae.Kind != apperr.KindValidation {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(ae.Fields) != 1 || ae.Fields[0].Field != tt.field {
				t.Errorf("expected %s error, got %v", tt.field, ae.Fields)
			}
		})
	}
}

func TestCreate_DiagnosisDateConditional(t *testing.T) {
	svc, s, g := newTestService(t)
	ctx := context.Background()
	sc := scopeFor(t, g, parentUser)

	_, err := svc.Create(ctx, sc, Input{Name: str("Emma"), DateOfBirth: str("2018-05-15"), CurrentDiagnosis: str("ASD")})
	ae, ok := err.(*apperr.Error)
	if !ok || ae.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ae.Fields) != 1 || ae.Fields[0].Message != "diagnosisDate required when currentDiagnosis present" {
		t.Errorf("unexpected field errors %v", ae.Fields)
	}
	if kids, _ := s.Children.ListByParent(ctx, "parent-1"); len(kids) != 0 {
		t.Errorf("rejected child was stored: %d", len(kids))
	}

	// Blank diagnosis and a professional alone need no date.
	if _, err := svc.Create(ctx, sc, Input{Name: str("Emma"), DateOfBirth: str("2018-05-15"), CurrentDiagnosis: str("  ")}); err != nil {
		t.Errorf("blank diagnosis: %v", err)
	}
	if _, err := svc.Create(ctx, sc, Input{Name: str("Liam"), DateOfBirth: str("2019-02-01"), DiagnosingProfessional: str("Dr Lee")}); err != nil {
		t.Errorf("professional only: %v", err)
	}
}

func TestCreate_ForOtherParent(t *testing.T) {
	svc, _, g := newTestService(t)
	_, err := svc.Create(context.Background(), scopeFor(t, g, parentUser), Input{ParentID: "parent-2", Name: str("Emma"), DateOfBirth: str("2018-05-15")})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}
	_, err = svc.Create(context.Background(), scopeFor(t, g, clinicUser), Input{Name: str("Emma"), DateOfBirth: str("2018-05-15")})
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden for clinic, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, _, g := newTestService(t)
	ctx := context.Background()
	c, _ := svc.Create(ctx, scopeFor(t, g, parentUser), Input{Name: str("Emma"), DateOfBirth: str("2018-05-15")})
	owner := scopeFor(t, g, parentUser)

	got, err := svc.Update(ctx, owner, c.ID, Input{PrimaryLanguage: str("English")})
	if err != nil {
		t.Fatal(err)
	}
	if got.PrimaryLanguage == nil || *got.PrimaryLanguage != "English" || got.Name != "Emma" {
		t.Errorf("expected shallow merge, got %+v", got)
	}

	if _, err := svc.Update(ctx, owner, c.ID, Input{Name: str("  ")}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for empty name, got %v", err)
	}
	if _, err := svc.Update(ctx, scopeFor(t, g, otherUser), c.ID, Input{Name: str("X")}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}
	if _, err := svc.Update(ctx, owner, "missing", Input{}); !apperr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUpdate_DiagnosisDateConditional(t *testing.T) {
	svc, s, g := newTestService(t)
	ctx := context.Background()
	owner := scopeFor(t, g, parentUser)
	c, err := svc.Create(ctx, owner, Input{Name: str("Emma"), DateOfBirth: str("2018-05-15")})
	if err != nil {
		t.Fatal(err)
	}

	_, err = svc.Update(ctx, owner, c.ID, Input{CurrentDiagnosis: str("ASD")})
	ae, ok := err.(*apperr.Error)
	if !ok || ae.Kind != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(ae.Fields) != 1 || ae.Fields[0].Field != "diagnosisDate" {
		t.Errorf("unexpected field errors %v", ae.Fields)
	}
	stored, _ := s.Children.Get(ctx, c.ID)
	if stored.CurrentDiagnosis != nil {
		t.Errorf("rejected update was applied: %v", *stored.CurrentDiagnosis)
	}

	got, err := svc.Update(ctx, owner, c.ID, Input{CurrentDiagnosis: str("ASD"), DiagnosisDate: str("2021-03-10")})
	if err != nil {
		t.Fatalf("diagnosis with date: %v", err)
	}
	if got.DiagnosisDate == nil || got.DiagnosisDate.Format("2006-01-02") != "2021-03-10" {
		t.Errorf("unexpected diagnosis date %v", got.DiagnosisDate)
	}

	// The stored date satisfies the rule for a later diagnosis change.
	if _, err := svc.Update(ctx, owner, c.ID, Input{CurrentDiagnosis: str("ADHD")}); err != nil {
		t.Errorf("changing diagnosis with stored date: %v", err)
	}
}

func TestListByParent(t *testing.T) {
	svc, _, g := newTestService(t)
	ctx := context.Background()
	_, _ = svc.Create(ctx, scopeFor(t, g, parentUser), Input{Name: str("Emma"), DateOfBirth: str("2018-05-15")})
	_, _ = svc.Create(ctx, scopeFor(t, g, parentUser), Input{Name: str("Liam"), DateOfBirth: str("2020-01-01")})

	kids, err := svc.ListByParent(ctx, scopeFor(t, g, parentUser), "parent-1")
	if err != nil || len(kids) != 2 {
		t.Fatalf("expected 2 children, got %d (%v)", len(kids), err)
	}
	kids, _ = svc.ListByParent(ctx, scopeFor(t, g, otherUser), "parent-1")
	if len(kids) != 0 {
		t.Errorf("another parent must not see these children, got %d", len(kids))
	}
}
