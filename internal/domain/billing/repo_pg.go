package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/billing/internal/platform/db"
)

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const invCols = `id, invoice_number, patient_id, date, due_date,
	sub_total, tax_amount, discount_amount, total_amount, paid_amount,
	status, notes, cancelled_at, created_at, updated_at`

const itemCols = `id, invoice_id, sequence, item_type, item_id, description,
	quantity, unit_price, discount, tax_rate`

func (r *invoiceRepoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.Date, &inv.DueDate,
		&inv.SubTotal, &inv.TaxAmount, &inv.DiscountAmount, &inv.TotalAmount, &inv.PaidAmount,
		&inv.Status, &inv.Notes, &inv.CancelledAt, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	return &inv, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO invoice (id, invoice_number, patient_id, date, due_date,
				sub_total, tax_amount, discount_amount, total_amount, paid_amount,
				status, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			RETURNING created_at, updated_at`,
			inv.ID, inv.InvoiceNumber, inv.PatientID, inv.Date, inv.DueDate,
			inv.SubTotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount, inv.PaidAmount,
			inv.Status, inv.Notes).Scan(&inv.CreatedAt, &inv.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateInvoiceNumber, inv.InvoiceNumber)
		}
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		return r.insertItems(ctx, inv)
	})
}

func (r *invoiceRepoPG) insertItems(ctx context.Context, inv *Invoice) error {
	for i := range inv.Items {
		it := &inv.Items[i]
		it.ID = uuid.New()
		it.InvoiceID = inv.ID
		it.Sequence = i
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO invoice_item (`+itemCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			it.ID, it.InvoiceID, it.Sequence, it.ItemType, it.ItemID, it.Description,
			it.Quantity, it.UnitPrice, it.Discount, it.TaxRate)
		if err != nil {
			return fmt.Errorf("insert invoice item %d: %w", i, err)
		}
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := r.scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM invoice WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, []*Invoice{inv}); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice, replaceItems bool) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE invoice SET due_date=$2, sub_total=$3, tax_amount=$4, discount_amount=$5,
				total_amount=$6, paid_amount=$7, status=$8, notes=$9, cancelled_at=$10,
				updated_at=NOW()
			WHERE id = $1`,
			inv.ID, inv.DueDate, inv.SubTotal, inv.TaxAmount, inv.DiscountAmount,
			inv.TotalAmount, inv.PaidAmount, inv.Status, inv.Notes, inv.CancelledAt)
		if err != nil {
			return fmt.Errorf("update invoice: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInvoiceNotFound
		}
		if !replaceItems {
			return nil
		}
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice_item WHERE invoice_id = $1`, inv.ID); err != nil {
			return fmt.Errorf("delete invoice items: %w", err)
		}
		return r.insertItems(ctx, inv)
	})
}

func (r *invoiceRepoPG) List(ctx context.Context, q InvoiceQuery) ([]*Invoice, error) {
	var where []string
	var args []interface{}
	if q.PatientID != nil {
		args = append(args, *q.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if q.From != nil {
		args = append(args, dateOnly(*q.From))
		where = append(where, fmt.Sprintf("date >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, dateOnly(*q.To))
		where = append(where, fmt.Sprintf("date <= $%d", len(args)))
	}
	sql := `SELECT ` + invCols + ` FROM invoice`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at, id`

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *invoiceRepoPG) loadItems(ctx context.Context, invoices []*Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Invoice, len(invoices))
	ids := make([]uuid.UUID, 0, len(invoices))
	for _, inv := range invoices {
		byID[inv.ID] = inv
		ids = append(ids, inv.ID)
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+`
		FROM invoice_item WHERE invoice_id = ANY($1::uuid[]) ORDER BY invoice_id, sequence`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.Sequence, &it.ItemType, &it.ItemID, &it.Description,
			&it.Quantity, &it.UnitPrice, &it.Discount, &it.TaxRate); err != nil {
			return err
		}
		if inv, ok := byID[it.InvoiceID]; ok {
			inv.Items = append(inv.Items, it)
		}
	}
	return rows.Err()
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository { return &paymentRepoPG{pool: pool} }

func (r *paymentRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const payCols = `id, invoice_id, amount, payment_method, payment_date, reference_number,
	status, notes, recorded_by, created_at`

func (r *paymentRepoPG) scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaymentMethod, &p.PaymentDate, &p.ReferenceNumber,
		&p.Status, &p.Notes, &p.RecordedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment (id, invoice_id, amount, payment_method, payment_date,
			reference_number, status, notes, recorded_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		p.ID, p.InvoiceID, p.Amount, p.PaymentMethod, p.PaymentDate,
		p.ReferenceNumber, p.Status, p.Notes, p.RecordedBy).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	return r.scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+payCols+` FROM payment WHERE id = $1`, id))
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return r.List(ctx, PaymentQuery{InvoiceID: &invoiceID})
}

func (r *paymentRepoPG) List(ctx context.Context, q PaymentQuery) ([]*Payment, error) {
	var where []string
	var args []interface{}
	if q.InvoiceID != nil {
		args = append(args, *q.InvoiceID)
		where = append(where, fmt.Sprintf("invoice_id = $%d", len(args)))
	}
	if q.From != nil {
		args = append(args, *q.From)
		where = append(where, fmt.Sprintf("payment_date >= $%d", len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		where = append(where, fmt.Sprintf("payment_date < $%d", len(args)))
	}
	sql := `SELECT ` + payCols + ` FROM payment`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at, id`

	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Payment
	for rows.Next() {
		p, err := r.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

// =========== Invoice Locker ===========

type invoiceLockerPG struct{ pool *pgxpool.Pool }

// NewInvoiceLockerPG serializes invoice mutations with a row lock held for
// the duration of a transaction.
func NewInvoiceLockerPG(pool *pgxpool.Pool) InvoiceLocker { return &invoiceLockerPG{pool: pool} }

func (l *invoiceLockerPG) WithInvoiceLock(ctx context.Context, invoiceID uuid.UUID, fn func(ctx context.Context) error) error {
	return db.RunInTx(ctx, l.pool, func(ctx context.Context) error {
		var locked uuid.UUID
		err := db.TxFromContext(ctx).QueryRow(ctx,
			`SELECT id FROM invoice WHERE id = $1 FOR UPDATE`, invoiceID).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		if err != nil {
			return fmt.Errorf("lock invoice: %w", err)
		}
		return fn(ctx)
	})
}
