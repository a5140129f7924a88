package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/billing/internal/platform/db"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) Repository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const patientCols = `id, mrn, first_name, last_name, phone_mobile, email, created_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	if err := row.Scan(&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.PhoneMobile, &p.Email, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient (id, mrn, first_name, last_name, phone_mobile, email)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		p.ID, p.MRN, p.FirstName, p.LastName, p.PhoneMobile, p.Email,
	).Scan(&p.CreatedAt)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateMRN, p.MRN)
	}
	if err != nil {
		return fmt.Errorf("insert patient: %w", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *patientRepoPG) ListByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Patient, error) {
	out := make(map[uuid.UUID]*Patient, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("query patients: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count patients: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patient
		ORDER BY last_name, first_name, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
