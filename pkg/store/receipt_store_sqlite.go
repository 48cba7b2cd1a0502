package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/certkernel/pkg/diag"

	_ "modernc.org/sqlite"
)

const receiptColumns = `receipt_id, certificate_hash, input_digest, policy_version, policy_digest, ops_version, ok, diagnostics, cached, created_at`

// SQLiteReceiptStore keeps receipts in a SQLite database.
type SQLiteReceiptStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteReceiptStore(ctx context.Context, db *sql.DB) (*SQLiteReceiptStore, error) {
	s := &SQLiteReceiptStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("store: migrate sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLiteReceiptStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS verification_receipts (
		receipt_id TEXT PRIMARY KEY,
		certificate_hash TEXT NOT NULL,
		input_digest TEXT NOT NULL,
		policy_version TEXT NOT NULL,
		policy_digest TEXT NOT NULL,
		ops_version TEXT NOT NULL,
		ok INTEGER NOT NULL,
		diagnostics JSON NOT NULL,
		cached INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_verification_receipts_cert
		ON verification_receipts (certificate_hash, created_at);`)
	return err
}

func (s *SQLiteReceiptStore) Save(ctx context.Context, r *Receipt) error {
	diagJSON, err := json.Marshal(r.Result().Diagnostics)
	if err != nil {
		return fmt.Errorf("store: encode diagnostics: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verification_receipts (`+receiptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ReceiptID, r.CertificateHash, r.InputDigest, r.PolicyVersion, r.PolicyDigest, r.OpsVersion,
		r.OK, string(diagJSON), r.Cached, r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicate, r.ReceiptID)
		}
		return fmt.Errorf("store: insert receipt: %w", err)
	}
	return nil
}

func (s *SQLiteReceiptStore) Get(ctx context.Context, receiptID string) (*Receipt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM verification_receipts WHERE receipt_id = ?`, receiptID)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, receiptID)
	}
	return r, err
}

func (s *SQLiteReceiptStore) ListByCertificate(ctx context.Context, certificateHash string, limit int) ([]*Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM verification_receipts WHERE certificate_hash = ? ORDER BY created_at DESC LIMIT ?`,
		certificateHash, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list receipts: %w", err)
	}
	return collectSQLite(rows)
}

func (s *SQLiteReceiptStore) List(ctx context.Context, limit int) ([]*Receipt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM verification_receipts ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list receipts: %w", err)
	}
	return collectSQLite(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*Receipt, error) {
	var (
		r         Receipt
		diagJSON  string
		createdAt string
	)
	err := row.Scan(&r.ReceiptID, &r.CertificateHash, &r.InputDigest, &r.PolicyVersion, &r.PolicyDigest,
		&r.OpsVersion, &r.OK, &diagJSON, &r.Cached, &createdAt)
	if err != nil {
		return nil, err
	}
	if r.Diagnostics, err = decodeDiagnostics([]byte(diagJSON)); err != nil {
		return nil, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("store: receipt %s: created_at: %w", r.ReceiptID, err)
	}
	return &r, nil
}

func collectSQLite(rows *sql.Rows) ([]*Receipt, error) {
	defer func() { _ = rows.Close() }()

	var out []*Receipt
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func decodeDiagnostics(data []byte) ([]diag.Diagnostic, error) {
	out := []diag.Diagnostic{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("store: decode diagnostics: %w", err)
	}
	return out, nil
}
