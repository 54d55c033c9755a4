// Package claims tracks subsidy claims from submission through the
// insurance review.
package claims

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mia/mia/internal/domain/access"
	"github.com/mia/mia/internal/platform/apperr"
	"github.com/mia/mia/internal/platform/events"
	"github.com/mia/mia/internal/store"
)

var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

// Input is the request body of claim creation. Amount accepts a JSON number
// or a decimal string.
type Input struct {
	ClaimNumber string      `json:"claimNumber"`
	ChildID     string      `json:"childId"`
	ClinicID    string      `json:"clinicId"`
	Amount      json.Number `json:"amount"`
	Status      string      `json:"status"`
	Period      string      `json:"period"`
	Priority    string      `json:"priority"`
}

// Decision is the request body of a review.
type Decision struct {
	Status string `json:"status"`
}

type Service struct {
	store  *store.Store
	guard  *access.Guard
	events events.Publisher
	logger zerolog.Logger
}

func NewService(s *store.Store, guard *access.Guard, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{store: s, guard: guard, events: pub, logger: logger}
}

// List returns every claim the caller may read.
func (s *Service) List(ctx context.Context, scope access.Scope) ([]*store.Claim, error) {
	list, err := s.store.Claims.List(ctx)
	if err != nil {
		return nil, err
	}
	return access.FilterClaims(scope, list), nil
}

// Pending lists claims awaiting review.
func (s *Service) Pending(ctx context.Context, scope access.Scope) ([]*store.Claim, error) {
	list, err := s.store.Claims.ListByStatus(ctx, store.ClaimPending)
	if err != nil {
		return nil, err
	}
	return access.FilterClaims(scope, list), nil
}

func (s *Service) ByChild(ctx context.Context, scope access.Scope, childID string) ([]*store.Claim, error) {
	if _, err := s.guard.ReadChild(ctx, scope, childID); err != nil {
		return nil, err
	}
	list, err := s.store.Claims.ListByChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	return access.FilterClaims(scope, list), nil
}

// Create submits a new pending claim on behalf of one of its parties.
func (s *Service) Create(ctx context.Context, scope access.Scope, in Input) (*store.Claim, error) {
	var errs []apperr.FieldError
	if strings.TrimSpace(in.ClaimNumber) == "" {
		errs = append(errs, apperr.FieldError{Field: "claimNumber", Message: "claimNumber is required"})
	}
	if in.ChildID == "" {
		errs = append(errs, apperr.FieldError{Field: "childId", Message: "childId is required"})
	}
	if in.ClinicID == "" {
		errs = append(errs, apperr.FieldError{Field: "clinicId", Message: "clinicId is required"})
	}
	amount, err := NormalizeAmount(in.Amount.String())
	if err != nil {
		errs = append(errs, apperr.FieldError{Field: "amount", Message: err.Error()})
	}
	if strings.TrimSpace(in.Period) == "" {
		errs = append(errs, apperr.FieldError{Field: "period", Message: "period is required"})
	}
	if in.Priority != "" && !store.ValidClaimPriorities[in.Priority] {
		errs = append(errs, priorityError())
	}
	if in.Status != "" && in.Status != store.ClaimPending {
		errs = append(errs, apperr.FieldError{Field: "status", Message: "new claims are pending"})
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("Invalid request data", errs...)
	}

	if _, err := s.store.Children.Get(ctx, in.ChildID); err != nil {
		return nil, err
	}
	if _, err := s.store.Clinics.Get(ctx, in.ClinicID); err != nil {
		return nil, err
	}
	c := &store.Claim{
		ClaimNumber: strings.TrimSpace(in.ClaimNumber),
		ChildID:     in.ChildID,
		ClinicID:    in.ClinicID,
		Amount:      amount,
		Status:      store.ClaimPending,
		Period:      strings.TrimSpace(in.Period),
		Priority:    in.Priority,
	}
	if !scope.CanWriteClaim(c) {
		return nil, apperr.Forbidden("no access to claims of child " + in.ChildID)
	}
	if err := s.store.Claims.Create(ctx, c); err != nil {
		if apperr.IsConflict(err) {
			return nil, err
		}
		return nil, fmt.Errorf("create claim: %w", err)
	}
	s.logger.Info().Str("claim_id", c.ID).Str("claim_number", c.ClaimNumber).Str("child_id", c.ChildID).Msg("claim submitted")
	return c, nil
}

// Update edits a claim. Parties may change amount, period and priority
// while the claim is pending; status changes are reviews and only insurance
// may make them.
func (s *Service) Update(ctx context.Context, scope access.Scope, id string, p store.ClaimPatch) (*store.Claim, error) {
	if scope.IsInsurance() {
		if p.Status == nil || p.Amount != nil || p.Period != nil || p.Priority != nil {
			return nil, apperr.Forbidden("insurance may only review claims")
		}
		return s.Review(ctx, scope, id, Decision{Status: *p.Status})
	}

	cur, err := s.store.Claims.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !scope.CanWriteClaim(cur) {
		return nil, apperr.Forbidden("no access to claim " + id)
	}
	if p.Status != nil {
		return nil, apperr.Validation("Invalid request data", apperr.FieldError{Field: "status", Message: "status is set by review"})
	}
	if cur.Status != store.ClaimPending {
		return nil, reviewedError()
	}
	p.ReviewedDate = nil

	var errs []apperr.FieldError
	if p.Amount != nil {
		amount, err := NormalizeAmount(*p.Amount)
		if err != nil {
			errs = append(errs, apperr.FieldError{Field: "amount", Message: err.Error()})
		} else {
			p.Amount = &amount
		}
	}
	if p.Period != nil && strings.TrimSpace(*p.Period) == "" {
		errs = append(errs, apperr.FieldError{Field: "period", Message: "period cannot be empty"})
	}
	if p.Priority != nil && !store.ValidClaimPriorities[*p.Priority] {
		errs = append(errs, priorityError())
	}
	if len(errs) > 0 {
		return nil, apperr.Validation("Invalid request data", errs...)
	}
	return s.store.Claims.Update(ctx, id, p)
}

// Review records the insurance decision on a pending claim and stamps the
// review date. A claim is reviewed at most once.
func (s *Service) Review(ctx context.Context, scope access.Scope, id string, d Decision) (*store.Claim, error) {
	if !scope.IsInsurance() {
		return nil, apperr.Forbidden("only insurance reviews claims")
	}
	if d.Status != store.ClaimApproved && d.Status != store.ClaimRejected {
		return nil, apperr.Validation("Invalid request data", apperr.FieldError{Field: "status", Message: "status must be approved or rejected"})
	}

	var out *store.Claim
	err := s.store.Tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.Claims.Get(ctx, id)
		if err != nil {
			return err
		}
		if !scope.CanReviewClaim(cur) {
			return reviewedError()
		}
		now := s.store.Now()
		status := d.Status
		out, err = s.store.Claims.Update(ctx, id, store.ClaimPatch{Status: &status, ReviewedDate: &now})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("claim_id", out.ID).Str("status", out.Status).Str("reviewer", scope.UserID()).Msg("claim reviewed")
	events.Emit(ctx, s.events, s.logger, events.New(events.ClaimReviewed, out.ChildID, map[string]any{
		"claimId":     out.ID,
		"claimNumber": out.ClaimNumber,
		"status":      out.Status,
		"amount":      out.Amount,
	}))
	return out, nil
}

// NormalizeAmount checks a non-negative decimal with at most two fractional
// digits and renders it with exactly two.
func NormalizeAmount(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("amount is required")
	}
	if !amountPattern.MatchString(v) {
		return "", fmt.Errorf("amount must be a decimal with at most two places")
	}
	whole, frac, _ := strings.Cut(v, ".")
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	for len(frac) < 2 {
		frac += "0"
	}
	return whole + "." + frac, nil
}

func reviewedError() *apperr.Error {
	return &apperr.Error{Kind: apperr.KindConflict, Field: "status", Message: "claim already reviewed"}
}

func priorityError() apperr.FieldError {
	return apperr.FieldError{Field: "priority", Message: "priority must be normal, high or urgent"}
}
