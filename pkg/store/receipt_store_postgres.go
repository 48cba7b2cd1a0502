package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresReceiptStore is the durable SQL implementation.
type PostgresReceiptStore struct {
	db *sql.DB
}

// OpenPostgres opens a PostgreSQL database from a lib/pq DSN.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return db, nil
}

func NewPostgresReceiptStore(db *sql.DB) *PostgresReceiptStore {
	return &PostgresReceiptStore{db: db}
}

// Migrate creates the receipts table if it does not exist.
func (s *PostgresReceiptStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS verification_receipts (
			receipt_id UUID PRIMARY KEY,
			certificate_hash TEXT NOT NULL,
			input_digest TEXT NOT NULL,
			policy_version TEXT NOT NULL,
			policy_digest TEXT NOT NULL,
			ops_version TEXT NOT NULL,
			ok BOOLEAN NOT NULL,
			diagnostics JSONB NOT NULL,
			cached BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("store: migrate postgres: %w", err)
	}
	return nil
}

func (s *PostgresReceiptStore) Save(ctx context.Context, r *Receipt) error {
	diagJSON, err := json.Marshal(r.Result().Diagnostics)
	if err != nil {
		return fmt.Errorf("store: encode diagnostics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verification_receipts (`+receiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ReceiptID, r.CertificateHash, r.InputDigest, r.PolicyVersion, r.PolicyDigest, r.OpsVersion,
		r.OK, diagJSON, r.Cached, r.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicate, r.ReceiptID)
		}
		return fmt.Errorf("store: insert receipt: %w", err)
	}
	return nil
}

func (s *PostgresReceiptStore) Get(ctx context.Context, receiptID string) (*Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM verification_receipts WHERE receipt_id = $1`, receiptID)
	r, err := scanPostgres(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, receiptID)
	}
	return r, err
}

func (s *PostgresReceiptStore) ListByCertificate(ctx context.Context, certificateHash string, limit int) ([]*Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM verification_receipts WHERE certificate_hash = $1 ORDER BY created_at DESC LIMIT $2`,
		certificateHash, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list receipts: %w", err)
	}
	return collectPostgres(rows)
}

func (s *PostgresReceiptStore) List(ctx context.Context, limit int) ([]*Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM verification_receipts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list receipts: %w", err)
	}
	return collectPostgres(rows)
}

func scanPostgres(row scanner) (*Receipt, error) {
	var (
		r        Receipt
		diagJSON []byte
	)
	err := row.Scan(&r.ReceiptID, &r.CertificateHash, &r.InputDigest, &r.PolicyVersion, &r.PolicyDigest,
		&r.OpsVersion, &r.OK, &diagJSON, &r.Cached, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if r.Diagnostics, err = decodeDiagnostics(diagJSON); err != nil {
		return nil, err
	}
	return &r, nil
}

func collectPostgres(rows *sql.Rows) ([]*Receipt, error) {
	defer func() { _ = rows.Close() }()

	var out []*Receipt
	for rows.Next() {
		r, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
