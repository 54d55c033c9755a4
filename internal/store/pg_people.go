package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/mia/mia/internal/platform/apperr"
)

// -- users --

type pgUsers struct{ s *PGStore }

const userCols = `id, username, password_hash, role, name, email, created_at`

func scanUser(row rowScanner) (*User, error) {
	var u User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &role, &u.Name, &u.Email, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func (r *pgUsers) getBy(ctx context.Context, col, val string) (*User, error) {
	u, err := scanUser(r.s.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE `+col+` = $1`, val))
	return u, mapError(err, "users.get", "user", val, nil)
}

func (r *pgUsers) Get(ctx context.Context, id string) (*User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *pgUsers) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *pgUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *pgUsers) Create(ctx context.Context, u *User) error {
	u.ID = uuid.NewString()
	u.CreatedAt = r.s.now()
	_, err := r.s.conn(ctx).Exec(ctx, `
		INSERT INTO users (id, username, password_hash, role, name, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Username, u.PasswordHash, string(u.Role), u.Name, u.Email, u.CreatedAt,
	)
	return mapError(err, "users.create", "user", u.ID, map[string]string{"username": u.Username, "email": u.Email})
}

func (r *pgUsers) Update(ctx context.Context, id string, p UserPatch) (*User, error) {
	return lockedUpdate(ctx, r.s,
		func(ctx context.Context) (*User, error) {
			u, err := scanUser(r.s.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1 FOR UPDATE`, id))
			return u, mapError(err, "users.update", "user", id, nil)
		},
		func(ctx context.Context, u *User) error {
			p.apply(u)
			_, err := r.s.conn(ctx).Exec(ctx, `UPDATE users SET name = $2, email = $3 WHERE id = $1`, id, u.Name, u.Email)
			return mapError(err, "users.update", "user", id, map[string]string{"email": u.Email})
		},
	)
}

// -- children --

type pgChildren struct{ s *PGStore }

const childCols = `id, parent_id, name, date_of_birth, gender, primary_language, current_diagnosis,
	diagnosis_date, diagnosing_professional, ndis_status, created_at`

func scanChild(row rowScanner) (*Child, error) {
	var c Child
	err := row.Scan(&c.ID, &c.ParentID, &c.Name, &c.DateOfBirth, &c.Gender, &c.PrimaryLanguage,
		&c.CurrentDiagnosis, &c.DiagnosisDate, &c.DiagnosingProfessional, &c.NDISStatus, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *pgChildren) Get(ctx context.Context, id string) (*Child, error) {
	c, err := scanChild(r.s.conn(ctx).QueryRow(ctx, `SELECT `+childCols+` FROM children WHERE id = $1`, id))
	return c, mapError(err, "children.get", "child", id, nil)
}

func (r *pgChildren) ListByParent(ctx context.Context, parentID string) ([]*Child, error) {
	rows, err := r.s.conn(ctx).Query(ctx, `SELECT `+childCols+` FROM children WHERE parent_id = $1 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, mapError(err, "children.list", "", "", nil)
	}
	items, err := collect(rows, scanChild)
	return items, mapError(err, "children.list", "", "", nil)
}

func (r *pgChildren) Create(ctx context.Context, c *Child) error {
	applyChildDefaults(c)
	c.ID = uuid.NewString()
	c.CreatedAt = r.s.now()
	_, err := r.s.conn(ctx).Exec(ctx, `
		INSERT INTO children (id, parent_id, name, date_of_birth, gender, primary_language, current_diagnosis,
			diagnosis_date, diagnosing_professional, ndis_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ParentID, c.Name, c.DateOfBirth, c.Gender, c.PrimaryLanguage, c.CurrentDiagnosis,
		c.DiagnosisDate, c.DiagnosingProfessional, c.NDISStatus, c.CreatedAt,
	)
	return mapError(err, "children.create", "child", c.ID, nil)
}

func (r *pgChildren) Update(ctx context.Context, id string, p ChildPatch) (*Child, error) {
	return lockedUpdate(ctx, r.s,
		func(ctx context.Context) (*Child, error) {
			c, err := scanChild(r.s.conn(ctx).QueryRow(ctx, `SELECT `+childCols+` FROM children WHERE id = $1 FOR UPDATE`, id))
			return c, mapError(err, "children.update", "child", id, nil)
		},
		func(ctx context.Context, c *Child) error {
			p.apply(c)
			_, err := r.s.conn(ctx).Exec(ctx, `
				UPDATE children SET name = $2, date_of_birth = $3, gender = $4, primary_language = $5,
					current_diagnosis = $6, diagnosis_date = $7, diagnosing_professional = $8, ndis_status = $9
				WHERE id = $1`,
				id, c.Name, c.DateOfBirth, c.Gender, c.PrimaryLanguage,
				c.CurrentDiagnosis, c.DiagnosisDate, c.DiagnosingProfessional, c.NDISStatus,
			)
			return mapError(err, "children.update", "child", id, nil)
		},
	)
}

// Delete removes a child. Its intake form, sessions, claims and documents
// go with it through ON DELETE CASCADE.
func (r *pgChildren) Delete(ctx context.Context, id string) error {
	tag, err := r.s.conn(ctx).Exec(ctx, `DELETE FROM children WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "children.delete", "child", id, nil)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("child", id)
	}
	return nil
}

// -- intake forms --

type pgIntakeForms struct{ s *PGStore }

const intakeCols = `id, child_id, current_step, is_completed, form_data, created_at, updated_at`

func scanIntakeForm(row rowScanner) (*IntakeForm, error) {
	var f IntakeForm
	if err := row.Scan(&f.ID, &f.ChildID, &f.CurrentStep, &f.IsCompleted, &f.FormData, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if f.FormData == nil {
		f.FormData = map[string]any{}
	}
	return &f, nil
}

func (r *pgIntakeForms) Get(ctx context.Context, id string) (*IntakeForm, error) {
	f, err := scanIntakeForm(r.s.conn(ctx).QueryRow(ctx, `SELECT `+intakeCols+` FROM intake_forms WHERE id = $1`, id))
	return f, mapError(err, "intake_forms.get", "intake form", id, nil)
}

func (r *pgIntakeForms) GetByChild(ctx context.Context, childID string) (*IntakeForm, error) {
	f, err := scanIntakeForm(r.s.conn(ctx).QueryRow(ctx, `SELECT `+intakeCols+` FROM intake_forms WHERE child_id = $1`, childID))
	return f, mapError(err, "intake_forms.get", "intake form for child", childID, nil)
}

func (r *pgIntakeForms) Create(ctx context.Context, f *IntakeForm) error {
	applyIntakeDefaults(f)
	now := r.s.now()
	f.ID = uuid.NewString()
	f.CreatedAt = now
	f.UpdatedAt = now
	return insertIntakeForm(ctx, r.s.conn(ctx), f)
}

// insertIntakeForm skips the insert when the child already has a form so a
// lost race surfaces as a conflict without aborting the surrounding
// transaction. The caller can then retry as an update.
func insertIntakeForm(ctx context.Context, q querier, f *IntakeForm) error {
	tag, err := q.Exec(ctx, `
		INSERT INTO intake_forms (id, child_id, current_step, is_completed, form_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (child_id) DO NOTHING`,
		f.ID, f.ChildID, f.CurrentStep, f.IsCompleted, f.FormData, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		return mapError(err, "intake_forms.create", "child", f.ChildID, map[string]string{"childId": f.ChildID})
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("childId", f.ChildID)
	}
	return nil
}

func (r *pgIntakeForms) Update(ctx context.Context, id string, p IntakeFormPatch) (*IntakeForm, error) {
	return lockedUpdate(ctx, r.s,
		func(ctx context.Context) (*IntakeForm, error) {
			f, err := scanIntakeForm(r.s.conn(ctx).QueryRow(ctx, `SELECT `+intakeCols+` FROM intake_forms WHERE id = $1 FOR UPDATE`, id))
			return f, mapError(err, "intake_forms.update", "intake form", id, nil)
		},
		func(ctx context.Context, f *IntakeForm) error {
			p.apply(f)
			f.UpdatedAt = r.s.now()
			_, err := r.s.conn(ctx).Exec(ctx, `
				UPDATE intake_forms SET current_step = $2, is_completed = $3, form_data = $4, updated_at = $5
				WHERE id = $1`,
				id, f.CurrentStep, f.IsCompleted, f.FormData, f.UpdatedAt,
			)
			return mapError(err, "intake_forms.update", "intake form", id, nil)
		},
	)
}
