// Package store is the durable record of users, children, intake forms,
// clinics, sessions, claims and documents. It offers an in-memory backend
// and a PostgreSQL backend behind the same repository interfaces.
//
// Create assigns ids and creation timestamps. Update shallow-merges a patch
// and returns the updated record or a not-found error. Foreign keys are not
// checked by the in-memory backend; callers verify referenced rows exist.
package store

import (
	"context"
	"time"
)

type UserRepository interface {
	Get(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u *User) error
	Update(ctx context.Context, id string, p UserPatch) (*User, error)
}

type ChildRepository interface {
	Get(ctx context.Context, id string) (*Child, error)
	ListByParent(ctx context.Context, parentID string) ([]*Child, error)
	Create(ctx context.Context, c *Child) error
	Update(ctx context.Context, id string, p ChildPatch) (*Child, error)
	Delete(ctx context.Context, id string) error
}

type IntakeFormRepository interface {
	Get(ctx context.Context, id string) (*IntakeForm, error)
	GetByChild(ctx context.Context, childID string) (*IntakeForm, error)
	Create(ctx context.Context, f *IntakeForm) error
	Update(ctx context.Context, id string, p IntakeFormPatch) (*IntakeForm, error)
}

type ClinicRepository interface {
	Get(ctx context.Context, id string) (*Clinic, error)
	GetByUser(ctx context.Context, userID string) (*Clinic, error)
	List(ctx context.Context) ([]*Clinic, error)
	Create(ctx context.Context, c *Clinic) error
	Update(ctx context.Context, id string, p ClinicPatch) (*Clinic, error)
}

type SessionRepository interface {
	Get(ctx context.Context, id string) (*Session, error)
	ListByChild(ctx context.Context, childID string) ([]*Session, error)
	ListByClinic(ctx context.Context, clinicID string) ([]*Session, error)
	// ListByClinicBetween returns sessions with from <= scheduledDate < to.
	ListByClinicBetween(ctx context.Context, clinicID string, from, to time.Time) ([]*Session, error)
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, id string, p SessionPatch) (*Session, error)
}

type ClaimRepository interface {
	Get(ctx context.Context, id string) (*Claim, error)
	List(ctx context.Context) ([]*Claim, error)
	ListByStatus(ctx context.Context, status string) ([]*Claim, error)
	ListByChild(ctx context.Context, childID string) ([]*Claim, error)
	ListByClinic(ctx context.Context, clinicID string) ([]*Claim, error)
	Create(ctx context.Context, c *Claim) error
	Update(ctx context.Context, id string, p ClaimPatch) (*Claim, error)
}

type DocumentRepository interface {
	Get(ctx context.Context, id string) (*Document, error)
	ListByChild(ctx context.Context, childID string) ([]*Document, error)
	Create(ctx context.Context, d *Document) error
	Update(ctx context.Context, id string, p DocumentPatch) (*Document, error)
	Delete(ctx context.Context, id string) error
}

// TxRunner executes fn as one unit of work where the backend supports it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store groups the repositories of one backend.
type Store struct {
	Users       UserRepository
	Children    ChildRepository
	IntakeForms IntakeFormRepository
	Clinics     ClinicRepository
	Sessions    SessionRepository
	Claims      ClaimRepository
	Documents   DocumentRepository
	Tx          TxRunner
	// Now is the clock used for timestamps and "today" queries.
	Now func() time.Time
}

// TodaysSessions returns the sessions of clinicID scheduled on the server's
// local calendar day containing now.
func TodaysSessions(ctx context.Context, repo SessionRepository, clinicID string, now time.Time) ([]*Session, error) {
	from, to := DayBounds(now)
	return repo.ListByClinicBetween(ctx, clinicID, from, to)
}
