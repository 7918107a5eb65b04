// Package store holds the persistent backends: PostgreSQL as the
// authoritative store and DynamoDB as an alternative audit trail.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/example/retail-backoffice/internal/audit"
	"github.com/example/retail-backoffice/internal/events"
	"github.com/example/retail-backoffice/internal/inventory"
	"github.com/example/retail-backoffice/internal/product"
	"github.com/example/retail-backoffice/internal/rma"
	"github.com/example/retail-backoffice/internal/sales"
)

func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// PostgresProductStore persists the catalog in the products table.
type PostgresProductStore struct {
	db *sql.DB
}

func NewPostgresProductStore(db *sql.DB) *PostgresProductStore {
	return &PostgresProductStore{db: db}
}

const productColumns = `id, name, price_cents, stock, active,
	flash_price_cents, flash_active, flash_start, flash_end, created_at, updated_at`

func (s *PostgresProductStore) Get(ctx context.Context, id string) (*product.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

func (s *PostgresProductStore) Put(ctx context.Context, p *product.Product) error {
	p.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			price_cents = EXCLUDED.price_cents,
			stock = EXCLUDED.stock,
			active = EXCLUDED.active,
			flash_price_cents = EXCLUDED.flash_price_cents,
			flash_active = EXCLUDED.flash_active,
			flash_start = EXCLUDED.flash_start,
			flash_end = EXCLUDED.flash_end,
			updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.PriceCents, p.Stock, p.Active,
		p.FlashPriceCents, p.FlashActive, nullTime(p.FlashStart), nullTime(p.FlashEnd),
		p.CreatedAt, p.UpdatedAt)
	return err
}

func (s *PostgresProductStore) List(ctx context.Context) ([]*product.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*product.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*product.Product, error) {
	var p product.Product
	var flashStart, flashEnd sql.NullTime
	err := row.Scan(&p.ID, &p.Name, &p.PriceCents, &p.Stock, &p.Active,
		&p.FlashPriceCents, &p.FlashActive, &flashStart, &flashEnd,
		&p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, product.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	p.FlashStart = flashStart.Time
	p.FlashEnd = flashEnd.Time
	return &p, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// PostgresLedger adjusts stock with conditional updates so concurrent
// reservations serialize in the database and stock can never go negative.
type PostgresLedger struct {
	db *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Reserve(ctx context.Context, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, inventory.ErrInvalidQuantity
	}

	var remaining int
	err := l.db.QueryRowContext(ctx,
		`UPDATE products SET stock = stock - $2, updated_at = now()
		 WHERE id = $1 AND stock >= $2
		 RETURNING stock`,
		productID, quantity).Scan(&remaining)
	if err == sql.ErrNoRows {
		// Either the row is missing or the condition failed.
		if _, err := l.Stock(ctx, productID); err != nil {
			return 0, err
		}
		return 0, inventory.ErrInsufficientStock
	}
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (l *PostgresLedger) Restore(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return inventory.ErrInvalidQuantity
	}

	res, err := l.db.ExecContext(ctx,
		`UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`,
		productID, quantity)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return product.ErrProductNotFound
	}
	return nil
}

func (l *PostgresLedger) Stock(ctx context.Context, productID string) (int, error) {
	var stock int
	err := l.db.QueryRowContext(ctx,
		`SELECT stock FROM products WHERE id = $1`, productID).Scan(&stock)
	if err == sql.ErrNoRows {
		return 0, product.ErrProductNotFound
	}
	if err != nil {
		return 0, err
	}
	return stock, nil
}

// PostgresSaleStore keeps sales with their line items as a jsonb document.
type PostgresSaleStore struct {
	db *sql.DB
}

func NewPostgresSaleStore(db *sql.DB) *PostgresSaleStore {
	return &PostgresSaleStore{db: db}
}

func (s *PostgresSaleStore) Get(ctx context.Context, id string) (*sales.Sale, error) {
	var sale sales.Sale
	var items []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, items, total_cents, status, pay_method, payment_ref, sale_time
		 FROM sales WHERE id = $1`, id).
		Scan(&sale.ID, &sale.UserID, &items, &sale.TotalCents,
			&sale.Status, &sale.PayMethod, &sale.PaymentRef, &sale.SaleTime)
	if err == sql.ErrNoRows {
		return nil, sales.ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &sale.Items); err != nil {
		return nil, fmt.Errorf("decode sale items: %w", err)
	}
	return &sale, nil
}

func (s *PostgresSaleStore) Put(ctx context.Context, sale *sales.Sale) error {
	items, err := json.Marshal(sale.Items)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sales (id, user_id, items, total_cents, status, pay_method, payment_ref, sale_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			items = EXCLUDED.items,
			total_cents = EXCLUDED.total_cents,
			status = EXCLUDED.status`,
		sale.ID, sale.UserID, items, sale.TotalCents,
		sale.Status, sale.PayMethod, sale.PaymentRef, sale.SaleTime)
	return err
}

// PostgresRMAStore keeps each request as a jsonb document alongside the
// columns the list queries filter on. Writes commit the request and its
// audit entry in one transaction when the audit trail shares this
// database; against other audit backends the request write is undone when
// the append fails.
type PostgresRMAStore struct {
	db       *sql.DB
	auditLog audit.Log
	txLog    *PostgresAuditLog // non-nil when auditLog shares s.db
}

func NewPostgresRMAStore(db *sql.DB, auditLog audit.Log) *PostgresRMAStore {
	s := &PostgresRMAStore{db: db, auditLog: auditLog}
	if pl, ok := auditLog.(*PostgresAuditLog); ok && pl.db == db {
		s.txLog = pl
	}
	return s
}

func (s *PostgresRMAStore) Create(ctx context.Context, req *rma.Request, entry audit.Entry) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	entry.EntityID = req.ID
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	const insert = `INSERT INTO rma_requests (id, sale_id, user_id, status, data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`
	args := []any{req.ID, req.SaleID, req.UserID, string(req.Status), data, req.CreatedAt, req.UpdatedAt}

	if s.txLog != nil {
		return s.txLog.appendWithin(ctx, entry, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, insert, args...)
			return err
		})
	}

	if _, err := s.db.ExecContext(ctx, insert, args...); err != nil {
		return err
	}
	if _, err := s.auditLog.Append(ctx, entry); err != nil {
		if _, derr := s.db.ExecContext(ctx, `DELETE FROM rma_requests WHERE id = $1`, req.ID); derr != nil {
			return fmt.Errorf("append audit entry: %w (undo failed: %v)", err, derr)
		}
		return err
	}
	return nil
}

func (s *PostgresRMAStore) Get(ctx context.Context, id string) (*rma.Request, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM rma_requests WHERE id = $1`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, rma.ErrRMANotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeRequest(data)
}

func (s *PostgresRMAStore) Update(ctx context.Context, req *rma.Request, entry audit.Entry) error {
	req.UpdatedAt = time.Now()
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	const update = `UPDATE rma_requests SET status = $2, data = $3, updated_at = $4 WHERE id = $1`
	args := []any{req.ID, string(req.Status), data, req.UpdatedAt}

	if s.txLog != nil {
		return s.txLog.appendWithin(ctx, entry, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx, update, args...)
			if err != nil {
				return err
			}
			return checkUpdated(res)
		})
	}

	var prev []byte
	if err := s.db.QueryRowContext(ctx,
		`SELECT data FROM rma_requests WHERE id = $1`, req.ID).Scan(&prev); err != nil {
		if err == sql.ErrNoRows {
			return rma.ErrRMANotFound
		}
		return err
	}
	res, err := s.db.ExecContext(ctx, update, args...)
	if err != nil {
		return err
	}
	if err := checkUpdated(res); err != nil {
		return err
	}
	if _, err := s.auditLog.Append(ctx, entry); err != nil {
		if _, rerr := s.db.ExecContext(ctx, update, req.ID, prevStatus(prev), prev, time.Now()); rerr != nil {
			return fmt.Errorf("append audit entry: %w (undo failed: %v)", err, rerr)
		}
		return err
	}
	return nil
}

func checkUpdated(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rma.ErrRMANotFound
	}
	return nil
}

func prevStatus(data []byte) string {
	req, err := decodeRequest(data)
	if err != nil {
		return ""
	}
	return string(req.Status)
}

func (s *PostgresRMAStore) ListBySale(ctx context.Context, saleID string) ([]*rma.Request, error) {
	return s.list(ctx, `SELECT data FROM rma_requests WHERE sale_id = $1 ORDER BY created_at`, saleID)
}

func (s *PostgresRMAStore) ListByUser(ctx context.Context, userID string) ([]*rma.Request, error) {
	return s.list(ctx, `SELECT data FROM rma_requests WHERE user_id = $1 ORDER BY created_at`, userID)
}

func (s *PostgresRMAStore) list(ctx context.Context, query, arg string) ([]*rma.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rma.Request
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		req, err := decodeRequest(data)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *PostgresRMAStore) NextNumber(ctx context.Context, day time.Time) (string, error) {
	key := day.Format("20060102")
	var counter int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rma_counters (day, counter) VALUES ($1, 1)
		 ON CONFLICT (day) DO UPDATE SET counter = rma_counters.counter + 1
		 RETURNING counter`, key).Scan(&counter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("RMA-%s-%04d", key, counter), nil
}

func decodeRequest(data []byte) (*rma.Request, error) {
	var req rma.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode rma request: %w", err)
	}
	return &req, nil
}

// PostgresAuditLog is the durable audit trail. Appended entries are also
// published to the event stream; publish failures are logged by the
// caller's composition, never surfaced to the workflow.
type PostgresAuditLog struct {
	db        *sql.DB
	publisher events.Publisher
}

func NewPostgresAuditLog(db *sql.DB, publisher events.Publisher) *PostgresAuditLog {
	return &PostgresAuditLog{db: db, publisher: publisher}
}

const insertAuditEntry = `INSERT INTO audit_entries (id, entity_type, entity_id, from_state, to_state, actor, note, created_at)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (l *PostgresAuditLog) Append(ctx context.Context, e audit.Entry) (*audit.Entry, error) {
	stampEntry(&e)
	_, err := l.db.ExecContext(ctx, insertAuditEntry,
		e.ID, e.EntityType, e.EntityID, e.FromState, e.ToState, e.Actor, e.Note, e.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.publish(ctx, e)
	return &e, nil
}

// appendWithin runs fn and the audit insert in one transaction, so the
// caller's write and its audit entry commit together or not at all. The
// stream publication happens after commit, best-effort.
func (l *PostgresAuditLog) appendWithin(ctx context.Context, e audit.Entry, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	stampEntry(&e)
	if _, err := tx.ExecContext(ctx, insertAuditEntry,
		e.ID, e.EntityType, e.EntityID, e.FromState, e.ToState, e.Actor, e.Note, e.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	l.publish(ctx, e)
	return nil
}

// publish mirrors the committed entry onto the event stream. The database
// row is the source of truth; the stream is best-effort.
func (l *PostgresAuditLog) publish(ctx context.Context, e audit.Entry) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, e.EntityID, e); err != nil {
		log.Printf("[Audit] Failed to publish entry %s: %v", e.ID, err)
	}
}

func stampEntry(e *audit.Entry) {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()
}

func (l *PostgresAuditLog) Entries(ctx context.Context, entityID string) ([]audit.Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, entity_type, entity_id, from_state, to_state, actor, note, created_at
		 FROM audit_entries WHERE entity_id = $1 ORDER BY created_at`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.FromState,
			&e.ToState, &e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PostgresDirectory resolves customer contact details for notifications.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Email(ctx context.Context, customerID string) (string, error) {
	var email string
	err := d.db.QueryRowContext(ctx,
		`SELECT email FROM customers WHERE id = $1`, customerID).Scan(&email)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("customer %s not found", customerID)
	}
	if err != nil {
		return "", err
	}
	return email, nil
}
