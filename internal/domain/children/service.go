package children

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/store"
)

// Input is the client form of a child record. Dates are YYYY-MM-DD or
// RFC 3339 strings.
type Input struct {
	ParentID               string  `json:"parentId"`
	Name                   *string `json:"name"`
	DateOfBirth            *string `json:"dateOfBirth"`
	Gender                 *string `json:"gender"`
	PrimaryLanguage        *string `json:"primaryLanguage"`
	CurrentDiagnosis       *string `json:"currentDiagnosis"`
	DiagnosisDate          *string `json:"diagnosisDate"`
	DiagnosingProfessional *string `json:"diagnosingProfessional"`
	NDISStatus             *string `json:"ndisStatus"`
}

var diagnosisDateRequired = apperr.FieldError{Field: "diagnosisDate", Message: "diagnosisDate required when currentDiagnosis present"}

type Service struct {
	children store.ChildRepository
	guard    *access.Guard
	logger   zerolog.Logger
}

func NewService(children store.ChildRepository, guard *access.Guard, logger zerolog.Logger) *Service {
	return &Service{children: children, guard: guard, logger: logger}
}

// Create stores a child owned by the calling parent.
func (s *Service) Create(ctx context.Context, scope access.Scope, in Input) (*store.Child, error) {
	if !scope.IsParent() {
		return nil, apperr.Forbidden("only parents register children")
	}
	if in.ParentID != "" && in.ParentID != scope.UserID() {
		return nil, apperr.Forbidden("children are registered by their own parent")
	}
	patch, errs := toPatch(in)
	if patch.Name == nil || strings.TrimSpace(*patch.Name) == "" {
		errs = append(errs, apperr.FieldError{Field: "name", Message: "name is required"})
	}
	if patch.DateOfBirth == nil && !hasFieldError(errs, "dateOfBirth") {
		errs = append(errs, apperr.FieldError{Field: "dateOfBirth", Message: "dateOfBirth is required"})
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("Invalid request data", errs...)
	}

	c := &store.Child{
		ParentID:               scope.UserID(),
		Name:                   strings.TrimSpace(*patch.Name),
		DateOfBirth:            *patch.DateOfBirth,
		Gender:                 patch.Gender,
		PrimaryLanguage:        patch.PrimaryLanguage,
		CurrentDiagnosis:       patch.CurrentDiagnosis,
		DiagnosisDate:          patch.DiagnosisDate,
		DiagnosingProfessional: patch.DiagnosingProfessional,
	}
	if patch.NDISStatus != nil {
		c.NDISStatus = *patch.NDISStatus
	}
	if c.MissingDiagnosisDate() {
		return nil, apperr.Validation("Invalid request data", diagnosisDateRequired)
	}
	if err := s.children.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create child: %w", err)
	}
	s.logger.Info().Str("child_id", c.ID).Str("parent_id", c.ParentID).Msg("child created")
	return c, nil
}

// Update shallow-merges in onto a child of the calling parent.
func (s *Service) Update(ctx context.Context, scope access.Scope, id string, in Input) (*store.Child, error) {
	cur, err := s.guard.WriteChild(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if in.ParentID != "" && in.ParentID != scope.UserID() {
		return nil, apperr.Validation("Invalid request data", apperr.FieldError{Field: "parentId", Message: "parentId cannot be changed"})
	}
	patch, errs := toPatch(in)
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		errs = append(errs, apperr.FieldError{Field: "name", Message: "name cannot be empty"})
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("Invalid request data", errs...)
	}
	merged := *cur
	patch.Apply(&merged)
	if merged.MissingDiagnosisDate() {
		return nil, apperr.Validation("Invalid request data", diagnosisDateRequired)
	}
	return s.children.Update(ctx, id, patch)
}

func (s *Service) Get(ctx context.Context, scope access.Scope, id string) (*store.Child, error) {
	return s.guard.ReadChild(ctx, scope, id)
}

// ListByParent lists the children of parentID visible to the caller.
func (s *Service) ListByParent(ctx context.Context, scope access.Scope, parentID string) ([]*store.Child, error) {
	kids, err := s.children.ListByParent(ctx, parentID)
	if err != nil {
		return nil, err
	}
	return access.FilterChildren(scope, kids), nil
}

func toPatch(in Input) (store.ChildPatch, []apperr.FieldError) {
	var errs []apperr.FieldError
	date := func(field string, v *string) *time.Time {
		if v == nil {
			return nil
		}
		t, err := store.ParseDate(*v)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: field, Message: "must be a date (YYYY-MM-DD)"})
			return nil
		}
		return &t
	}
	p := store.ChildPatch{
		Name:                   in.Name,
		DateOfBirth:            date("dateOfBirth", in.DateOfBirth),
		Gender:                 in.Gender,
		PrimaryLanguage:        in.PrimaryLanguage,
		CurrentDiagnosis:       in.CurrentDiagnosis,
		DiagnosisDate:          date("diagnosisDate", in.DiagnosisDate),
		DiagnosingProfessional: in.DiagnosingProfessional,
		NDISStatus:             in.NDISStatus,
	}
	if p.NDISStatus != nil && !store.ValidNDISStatuses[*p.NDISStatus] {
		errs = append(errs, apperr.FieldError{Field: "ndisStatus", Message: "ndisStatus must be pending, approved or rejected"})
	}
	return p, errs
}

func hasFieldError(errs []apperr.FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
