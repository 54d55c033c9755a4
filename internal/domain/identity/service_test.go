package identity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/auth"
	"github.com/mia/mia/internal/store"
)

func newTestService(t *testing.T, allowSwitch bool) (*Service, *store.Store, *auth.TokenIssuer) {
	t.Helper()
	s := store.NewMemoryStore(time.Now).Store()
	issuer := auth.NewTokenIssuer([]byte("identity-test-key"), "mia", time.Hour)
	return NewService(s.Users, issuer, allowSwitch, zerolog.Nop()), s, issuer
}

func validInput() RegisterInput {
	return RegisterInput{
		Username: "jane.doe",
		Password: "correct-horse",
		Role:     "parent",
		Name:     "Jane Doe",
		Email:    "jane@example.com",
	}
}

func TestRegister(t *testing.T) {
	svc, s, issuer := newTestService(t, false)
	sess, err := svc.Register(context.Background(), validInput())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.User.ID == "" || sess.Token == "" {
		t.Fatalf("expected user and token, got %+v", sess)
	}
	id, err := issuer.Parse(sess.Token)
	if err != nil || id.UserID != sess.User.ID || id.Role != "parent" {
		t.Errorf("token does not describe the new user: %+v %v", id, err)
	}

	stored, _ := s.Users.GetByUsername(context.Background(), "jane.doe")
	if stored.PasswordHash == "correct-horse" || stored.PasswordHash == "" {
		t.Error("password must be stored hashed")
	}
}

func TestRegister_Validation(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	tests := []struct {
		name  string
		edit  func(*RegisterInput)
		field string
	}{
		{"missing username", func(in *RegisterInput) { in.Username = " " }, "username"},
		{"short password", func(in *RegisterInput) { in.Password = "short" }, "password"},
		{"bad role", func(in *RegisterInput) { in.Role = "admin" }, "role"},
		{"missing name", func(in *RegisterInput) { in.Name = "" }, "name"},
		{"bad email", func(in *RegisterInput) { in.Email = "not-an-email" }, "email"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.edit(&in)
			_, err := svc.Register(context.Background(), in)
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

func TestRegister_Duplicates(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()
	if _, err := svc.Register(ctx, validInput()); err != nil {
		t.Fatal(err)
	}

	in := validInput()
	in.Email = "other@example.com"
	_, err := svc.Register(ctx, in)
	if apperr.ConflictField(err) != "username" || err.Error() != "Username already exists" {
		t.Errorf("expected username conflict, got %v", err)
	}

	in = validInput()
	in.Username = "someone.else"
	_, err = svc.Register(ctx, in)
	if apperr.ConflictField(err) != "email" || err.Error() != "Email already exists" {
		t.Errorf("expected email conflict, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()
	if _, err := svc.Register(ctx, validInput()); err != nil {
		t.Fatal(err)
	}

	sess, err := svc.Login(ctx, "jane.doe", "correct-horse")
	if err != nil || sess.Token == "" {
		t.Fatalf("login: %v", err)
	}

	for _, tc := range []struct{ user, pass string }{
		{"jane.doe", "wrong-password"},
		{"nobody", "correct-horse"},
	} {
		_, err := svc.Login(ctx, tc.user, tc.pass)
		if apperr.KindOf(err) != apperr.KindUnauthorized || err.Error() != "Invalid credentials" {
			t.Errorf("%s/%s: expected invalid credentials, got %v", tc.user, tc.pass, err)
		}
	}

	if _, err := svc.Login(ctx, "", ""); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestSwitchRole(t *testing.T) {
	svc, s, issuer := newTestService(t, true)
	ctx := context.Background()
	if _, err := store.Seed(ctx, s, HashPassword); err != nil {
		t.Fatal(err)
	}

	sess, err := svc.SwitchRole(ctx, "clinic")
	if err != nil {
		t.Fatal(err)
	}
	if sess.User.Username != "dr.martinez" {
		t.Errorf("expected clinic demo account, got %s", sess.User.Username)
	}
	id, _ := issuer.Parse(sess.Token)
	if id.Role != "clinic" {
		t.Errorf("expected clinic token, got %s", id.Role)
	}

	if _, err := svc.SwitchRole(ctx, "admin"); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}

	disabled, _, _ := newTestService(t, false)
	if _, err := disabled.SwitchRole(ctx, "clinic"); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden when disabled, got %v", err)
	}
}

func TestSeededDemoLogin(t *testing.T) {
	svc, s, _ := newTestService(t, false)
	ctx := context.Background()
	if _, err := store.Seed(ctx, s, HashPassword); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Login(ctx, "sarah.johnson", store.DemoPassword); err != nil {
		t.Errorf("demo login: %v", err)
	}
}
