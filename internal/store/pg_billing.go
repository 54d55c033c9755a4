package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/mia/mia/internal/platform/apperr"
)

// -- claims --

type pgClaims struct{ s *PGStore }

// amount travels as text so the decimal string survives unchanged.
const claimCols = `id, claim_number, child_id, clinic_id, amount::text, status, submitted_date, reviewed_date,
	period, priority, created_at`

func scanClaim(row rowScanner) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.ChildID, &c.ClinicID, &c.Amount, &c.Status, &c.SubmittedDate,
		&c.ReviewedDate, &c.Period, &c.Priority, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *pgClaims) Get(ctx context.Context, id string) (*Claim, error) {
	c, err := scanClaim(r.s.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
	return c, mapError(err, "claims.get", "claim", id, nil)
}

func (r *pgClaims) list(ctx context.Context, where string, args ...interface{}) ([]*Claim, error) {
	q := `SELECT ` + claimCols + ` FROM claims`
	if where != "" {
		q += ` WHERE ` + where
	}
	rows, err := r.s.conn(ctx).Query(ctx, q+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, mapError(err, "claims.list", "", "", nil)
	}
	items, err := collect(rows, scanClaim)
	return items, mapError(err, "claims.list", "", "", nil)
}

func (r *pgClaims) List(ctx context.Context) ([]*Claim, error) {
	return r.list(ctx, "")
}

func (r *pgClaims) ListByStatus(ctx context.Context, status string) ([]*Claim, error) {
	return r.list(ctx, `status = $1`, status)
}

func (r *pgClaims) ListByChild(ctx context.Context, childID string) ([]*Claim, error) {
	return r.list(ctx, `child_id = $1`, childID)
}

func (r *pgClaims) ListByClinic(ctx context.Context, clinicID string) ([]*Claim, error) {
	return r.list(ctx, `clinic_id = $1`, clinicID)
}

func (r *pgClaims) Create(ctx context.Context, c *Claim) error {
	now := r.s.now()
	applyClaimDefaults(c, now)
	c.ID = uuid.NewString()
	c.CreatedAt = now
	_, err := r.s.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, claim_number, child_id, clinic_id, amount, status, submitted_date, reviewed_date,
			period, priority, created_at)
		VALUES ($1, $2, $3, $4, CAST($5::text AS NUMERIC), $6, $7, $8, $9, $10, $11)`,
		c.ID, c.ClaimNumber, c.ChildID, c.ClinicID, c.Amount, c.Status, c.SubmittedDate, c.ReviewedDate,
		c.Period, c.Priority, c.CreatedAt,
	)
	return mapError(err, "claims.create", "claim", c.ID, map[string]string{"claimNumber": c.ClaimNumber})
}

func (r *pgClaims) Update(ctx context.Context, id string, p ClaimPatch) (*Claim, error) {
	return lockedUpdate(ctx, r.s,
		func(ctx context.Context) (*Claim, error) {
			c, err := scanClaim(r.s.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1 FOR UPDATE`, id))
			return c, mapError(err, "claims.update", "claim", id, nil)
		},
		func(ctx context.Context, c *Claim) error {
			p.apply(c)
			_, err := r.s.conn(ctx).Exec(ctx, `
				UPDATE claims SET amount = CAST($2::text AS NUMERIC), status = $3, reviewed_date = $4, period = $5, priority = $6
				WHERE id = $1`,
				id, c.Amount, c.Status, c.ReviewedDate, c.Period, c.Priority,
			)
			if err != nil {
				return mapError(err, "claims.update", "claim", id, nil)
			}
			// Re-read so amount comes back in its canonical two-digit form.
			fresh, err := scanClaim(r.s.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
			if err != nil {
				return mapError(err, "claims.update", "claim", id, nil)
			}
			*c = *fresh
			return nil
		},
	)
}

// -- documents --

type pgDocuments struct{ s *PGStore }

const documentCols = `id, child_id, file_name, file_type, document_type, file_size, uploaded_by, storage_key, digest, created_at`

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.ChildID, &d.FileName, &d.FileType, &d.DocumentType, &d.FileSize, &d.UploadedBy,
		&d.StorageKey, &d.Digest, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *pgDocuments) Get(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(r.s.conn(ctx).QueryRow(ctx, `SELECT `+documentCols+` FROM documents WHERE id = $1`, id))
	return d, mapError(err, "documents.get", "document", id, nil)
}

func (r *pgDocuments) ListByChild(ctx context.Context, childID string) ([]*Document, error) {
	rows, err := r.s.conn(ctx).Query(ctx, `SELECT `+documentCols+` FROM documents WHERE child_id = $1 ORDER BY created_at, id`, childID)
	if err != nil {
		return nil, mapError(err, "documents.list", "", "", nil)
	}
	items, err := collect(rows, scanDocument)
	return items, mapError(err, "documents.list", "", "", nil)
}

func (r *pgDocuments) Create(ctx context.Context, d *Document) error {
	d.ID = uuid.NewString()
	d.CreatedAt = r.s.now()
	_, err := r.s.conn(ctx).Exec(ctx, `
		INSERT INTO documents (id, child_id, file_name, file_type, document_type, file_size, uploaded_by,
			storage_key, digest, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.ChildID, d.FileName, d.FileType, d.DocumentType, d.FileSize, d.UploadedBy,
		d.StorageKey, d.Digest, d.CreatedAt,
	)
	return mapError(err, "documents.create", "document", d.ID, nil)
}

func (r *pgDocuments) Update(ctx context.Context, id string, p DocumentPatch) (*Document, error) {
	return lockedUpdate(ctx, r.s,
		func(ctx context.Context) (*Document, error) {
			d, err := scanDocument(r.s.conn(ctx).QueryRow(ctx, `SELECT `+documentCols+` FROM documents WHERE id = $1 FOR UPDATE`, id))
			return d, mapError(err, "documents.update", "document", id, nil)
		},
		func(ctx context.Context, d *Document) error {
			p.apply(d)
			_, err := r.s.conn(ctx).Exec(ctx, `UPDATE documents SET file_name = $2, document_type = $3 WHERE id = $1`,
				id, d.FileName, d.DocumentType)
			return mapError(err, "documents.update", "document", id, nil)
		},
	)
}

func (r *pgDocuments) Delete(ctx context.Context, id string) error {
	tag, err := r.s.conn(ctx).Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return mapError(err, "documents.delete", "document", id, nil)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("document", id)
	}
	return nil
}
