// Package care serves the clinic directory and therapy sessions.
package care

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/store"
)

type Service struct {
	store  *store.Store
	guard  *access.Guard
	logger zerolog.Logger
}

func NewService(s *store.Store, guard *access.Guard, logger zerolog.Logger) *Service {
	return &Service{store: s, guard: guard, logger: logger}
}

// -- Clinics --

func (s *Service) ListClinics(ctx context.Context) ([]*store.Clinic, error) {
	return s.store.Clinics.List(ctx)
}

func (s *Service) ClinicByUser(ctx context.Context, userID string) (*store.Clinic, error) {
	return s.store.Clinics.GetByUser(ctx, userID)
}

// CreateClinic registers the clinic of the calling clinic user. A user owns
// at most one clinic.
func (s *Service) CreateClinic(ctx context.Context, scope access.Scope, c *store.Clinic) error {
	if !scope.IsClinic() {
		return apperr.Forbidden("only clinic accounts register clinics")
	}
	if c.UserID != "" && c.UserID != scope.UserID() {
		return apperr.Forbidden("clinics are registered by their own account")
	}
	c.UserID = scope.UserID()
	if errs := validateClinic(c.Name, c.Specialization, c.Address, c.Distance, c.Rating); len(errs) > 0 {
		return apperr.Validation("Invalid request data", errs...)
	}
	if _, err := s.store.Clinics.GetByUser(ctx, c.UserID); err == nil {
		return apperr.Conflict("userId", c.UserID)
	} else if !apperr.IsNotFound(err) {
		return err
	}
	c.ID = ""
	if err := s.store.Clinics.Create(ctx, c); err != nil {
		return fmt.Errorf("create clinic: %w", err)
	}
	s.logger.Info().Str("clinic_id", c.ID).Str("user_id", c.UserID).Msg("clinic created")
	return nil
}

func (s *Service) UpdateClinic(ctx context.Context, scope access.Scope, id string, p store.ClinicPatch) (*store.Clinic, error) {
	cur, err := s.store.Clinics.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.CanWriteClinic(cur) {
		return nil, apperr.Forbidden("no access to clinic " + id)
	}
	name, spec, addr := pick(cur.Name, p.Name), pick(cur.Specialization, p.Specialization), pick(cur.Address, p.Address)
	if errs := validateClinic(name, spec, addr, p.Distance, p.Rating); len(errs) > 0 {
		return nil, apperr.Validation("Invalid request data", errs...)
	}
	return s.store.Clinics.Update(ctx, id, p)
}

func pick(cur string, next *string) string {
	if next != nil {
		return *next
	}
	return cur
}

func validateClinic(name, specialization, address string, distance, rating *string) []apperr.FieldError {
	var errs []apperr.FieldError
	for _, f := range []struct{ field, v string }{
		{"name", name}, {"specialization", specialization}, {"address", address},
	} {
		if strings.TrimSpace(f.v) == "" {
			errs = append(errs, apperr.FieldError{Field: f.field, Message: f.field + " is required"})
		}
	}
	for _, f := range []struct {
		field string
		v     *string
	}{{"distance", distance}, {"rating", rating}} {
		if f.v == nil {
			continue
		}
		if _, err := strconv.ParseFloat(*f.v, 64); err != nil {
			errs = append(errs, apperr.FieldError{Field: f.field, Message: f.field + " must be a decimal number"})
		}
	}
	return errs
}

// -- Sessions --

func (s *Service) SessionsByChild(ctx context.Context, scope access.Scope, childID string) ([]*store.Session, error) {
	if _, err := s.guard.ReadChild(ctx, scope, childID); err != nil {
		return nil, err
	}
	list, err := s.store.Sessions.ListByChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	return access.FilterSessions(scope, list), nil
}

func (s *Service) SessionsByClinic(ctx context.Context, scope access.Scope, clinicID string) ([]*store.Session, error) {
	list, err := s.store.Sessions.ListByClinic(ctx, clinicID)
	if err != nil {
		return nil, err
	}
	return access.FilterSessions(scope, list), nil
}

// TodaysSessions lists the sessions of clinicID on the server's current
// local day.
func (s *Service) TodaysSessions(ctx context.Context, scope access.Scope, clinicID string) ([]*store.Session, error) {
	list, err := store.TodaysSessions(ctx, s.store.Sessions, clinicID, s.store.Now())
	if err != nil {
		return nil, err
	}
	return access.FilterSessions(scope, list), nil
}

func (s *Service) CreateSession(ctx context.Context, scope access.Scope, sess *store.Session) error {
	var errs []apperr.FieldError
	if sess.ChildID == "" {
		errs = append(errs, apperr.FieldError{Field: "childId", Message: "childId is required"})
	}
	if sess.ClinicID == "" {
		errs = append(errs, apperr.FieldError{Field: "clinicId", Message: "clinicId is required"})
	}
	if strings.TrimSpace(sess.SessionType) == "" {
		errs = append(errs, apperr.FieldError{Field: "sessionType", Message: "sessionType is required"})
	}
	if sess.ScheduledDate.IsZero() {
		errs = append(errs, apperr.FieldError{Field: "scheduledDate", Message: "scheduledDate is required"})
	}
	if sess.Status != "" && !store.ValidSessionStatuses[sess.Status] {
		errs = append(errs, statusError())
	}
	if len(errs) > 0 {
		return apperr.Validation("Invalid request data", errs...)
	}
	if _, err := s.store.Children.Get(ctx, sess.ChildID); err != nil {
		return err
	}
	if _, err := s.store.Clinics.Get(ctx, sess.ClinicID); err != nil {
		return err
	}
	if !scope.CanWriteSession(sess) {
		return apperr.Forbidden("no access to sessions of child " + sess.ChildID)
	}
	sess.ID = ""
	if err := s.store.Sessions.Create(ctx, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	s.logger.Info().Str("session_id", sess.ID).Str("clinic_id", sess.ClinicID).Time("scheduled", sess.ScheduledDate).Msg("session scheduled")
	return nil
}

func (s *Service) UpdateSession(ctx context.Context, scope access.Scope, id string, p store.SessionPatch) (*store.Session, error) {
	cur, err := s.store.Sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.CanWriteSession(cur) {
		return nil, apperr.Forbidden("no access to session " + id)
	}
	if p.Status != nil && !store.ValidSessionStatuses[*p.Status] {
		return nil, apperr.Validation("Invalid request data", statusError())
	}
	if p.SessionType != nil && strings.TrimSpace(*p.SessionType) == "" {
		return nil, apperr.Validation("Invalid request data", apperr.FieldError{Field: "sessionType", Message: "sessionType cannot be empty"})
	}
	if p.ScheduledDate != nil && p.ScheduledDate.Equal(time.Time{}) {
		return nil, apperr.Validation("Invalid request data", apperr.FieldError{Field: "scheduledDate", Message: "scheduledDate cannot be empty"})
	}
	return s.store.Sessions.Update(ctx, id, p)
}

func statusError() apperr.FieldError {
	return apperr.FieldError{Field: "status", Message: "status must be scheduled, completed or cancelled"}
}
