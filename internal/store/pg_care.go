package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// -- clinics --

type pgClinics struct{ s *PGStore }

const clinicCols = `id, user_id, name, specialization, address, distance, rating, availability, created_at`

func scanClinic(row rowScanner) (*Clinic, error) {
	var c Clinic
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Specialization, &c.Address, &c.Distance, &c.Rating, &c.Availability, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *pgClinics) Get(ctx context.Context, id string) (*Clinic, error) {
	c, err := scanClinic(r.s.conn(ctx).QueryRow(ctx, `SELECT `+clinicCols+` FROM clinics WHERE id = $1`, id))
	return c, mapError(err, "clinics.get", "clinic", id, nil)
}

func (r *pgClinics) GetByUser(ctx context.Context, userID string) (*Clinic, error) {
	c, err := scanClinic(r.s.conn(ctx).QueryRow(ctx,
		`SELECT `+clinicCols+` FROM clinics WHERE user_id = $1 ORDER BY created_at, id LIMIT 1`, userID))
	return c, mapError(err, "clinics.get", "clinic for user", userID, nil)
}

func (r *pgClinics) List(ctx context.Context) ([]*Clinic, error) {
	rows, err := r.s.conn(ctx).Query(ctx, `SELECT `+clinicCols+` FROM clinics ORDER BY created_at, id`)
	if err != nil {
		return nil, mapError(err, "clinics.list", "", "", nil)
	}
	items, err := collect(rows, scanClinic)
	return items, mapError(err, "clinics.list", "", "", nil)
}

func (r *pgClinics) Create(ctx context.Context, c *Clinic) error {
	applyClinicDefaults(c)
	c.ID = uuid.NewString()
	c.CreatedAt = r.s.now()
	_, err := r.s.conn(ctx).Exec(ctx, `
		INSERT INTO clinics (id, user_id, name, specialization, address, distance, rating, availability, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.UserID, c.Name, c.Specialization, c.Address, c.Distance, c.Rating, c.Availability, c.CreatedAt,
	)
	return mapError(err, "clinics.create", "clinic", c.ID, nil)
}

func (r *pgClinics) Update(ctx context.Context, id string, p ClinicPatch) (*Clinic, error) {
	return lockedUpdate(ctx, r.s,
		func(ctx context.Context) (*Clinic, error) {
			c, err := scanClinic(r.s.conn(ctx).QueryRow(ctx, `SELECT `+clinicCols+` FROM clinics WHERE id = $1 FOR UPDATE`, id))
			return c, mapError(err, "clinics.update", "clinic", id, nil)
		},
		func(ctx context.Context, c *Clinic) error {
			p.apply(c)
			_, err := r.s.conn(ctx).Exec(ctx, `
				UPDATE clinics SET name = $2, specialization = $3, address = $4, distance = $5, rating = $6, availability = $7
				WHERE id = $1`,
				id, c.Name, c.Specialization, c.Address, c.Distance, c.Rating, c.Availability,
			)
			return mapError(err, "clinics.update", "clinic", id, nil)
		},
	)
}

// -- sessions --

type pgSessions struct{ s *PGStore }

const sessionCols = `id, child_id, clinic_id, session_type, scheduled_date, status, notes,
	goals_achieved, homework_assigned, created_at`

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.ChildID, &s.ClinicID, &s.SessionType, &s.ScheduledDate, &s.Status, &s.Notes,
		&s.GoalsAchieved, &s.HomeworkAssigned, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *pgSessions) Get(ctx context.Context, id string) (*Session, error) {
	s, err := scanSession(r.s.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = $1`, id))
	return s, mapError(err, "sessions.get", "session", id, nil)
}

func (r *pgSessions) list(ctx context.Context, where string, args ...interface{}) ([]*Session, error) {
	rows, err := r.s.conn(ctx).Query(ctx, `SELECT `+sessionCols+` FROM sessions WHERE `+where+` ORDER BY scheduled_date, id`, args...)
	if err != nil {
		return nil, mapError(err, "sessions.list", "", "", nil)
	}
	items, err := collect(rows, scanSession)
	return items, mapError(err, "sessions.list", "", "", nil)
}

func (r *pgSessions) ListByChild(ctx context.Context, childID string) ([]*Session, error) {
	return r.list(ctx, `child_id = $1`, childID)
}

func (r *pgSessions) ListByClinic(ctx context.Context, clinicID string) ([]*Session, error) {
	return r.list(ctx, `clinic_id = $1`, clinicID)
}

func (r *pgSessions) ListByClinicBetween(ctx context.Context, clinicID string, from, to time.Time) ([]*Session, error) {
	return r.list(ctx, `clinic_id = $1 AND scheduled_date >= $2 AND scheduled_date < $3`, clinicID, from, to)
}

func (r *pgSessions) Create(ctx context.Context, s *Session) error {
	applySessionDefaults(s)
	s.ID = uuid.NewString()
	s.CreatedAt = r.s.now()
	_, err := r.s.conn(ctx).Exec(ctx, `
		INSERT INTO sessions (id, child_id, clinic_id, session_type, scheduled_date, status, notes,
			goals_achieved, homework_assigned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.ChildID, s.ClinicID, s.SessionType, s.ScheduledDate, s.Status, s.Notes,
		s.GoalsAchieved, s.HomeworkAssigned, s.CreatedAt,
	)
	return mapError(err, "sessions.create", "session", s.ID, nil)
}

func (r *pgSessions) Update(ctx context.Context, id string, p SessionPatch) (*Session, error) {
	return lockedUpdate(ctx, r.s,
		func(ctx context.Context) (*Session, error) {
			s, err := scanSession(r.s.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM sessions WHERE id = $1 FOR UPDATE`, id))
			return s, mapError(err, "sessions.update", "session", id, nil)
		},
		func(ctx context.Context, s *Session) error {
			p.apply(s)
			_, err := r.s.conn(ctx).Exec(ctx, `
				UPDATE sessions SET session_type = $2, scheduled_date = $3, status = $4, notes = $5,
					goals_achieved = $6, homework_assigned = $7
				WHERE id = $1`,
				id, s.SessionType, s.ScheduledDate, s.Status, s.Notes, s.GoalsAchieved, s.HomeworkAssigned,
			)
			return mapError(err, "sessions.update", "session", id, nil)
		},
	)
}
