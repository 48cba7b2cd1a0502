// Package store persists verification receipts: the durable record of which
// certificate was checked against which policy and ops versions, and with what
// result.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/certkernel/pkg/diag"
)

var (
	// ErrNotFound is returned when no receipt matches.
	ErrNotFound = errors.New("store: receipt not found")
	// ErrDuplicate is returned when a receipt id is already stored.
	ErrDuplicate = errors.New("store: duplicate receipt")
)

// Receipt records one verification.
type Receipt struct {
	ReceiptID       string            `json:"receipt_id"`
	CertificateHash string            `json:"certificate_hash"`
	InputDigest     string            `json:"input_digest"`
	PolicyVersion   string            `json:"policy_version"`
	PolicyDigest    string            `json:"policy_digest"`
	OpsVersion      string            `json:"ops_version"`
	OK              bool              `json:"ok"`
	Diagnostics     []diag.Diagnostic `json:"diagnostics"`
	Cached          bool              `json:"cached"`
	CreatedAt       time.Time         `json:"created_at"`
}

// NewReceipt stamps a fresh id and creation time onto a result.
func NewReceipt(certificateHash, inputDigest, policyVersion, policyDigest, opsVersion string, res diag.Result) *Receipt {
	return &Receipt{
		ReceiptID:       uuid.NewString(),
		CertificateHash: certificateHash,
		InputDigest:     inputDigest,
		PolicyVersion:   policyVersion,
		PolicyDigest:    policyDigest,
		OpsVersion:      opsVersion,
		OK:              res.OK,
		Diagnostics:     res.Diagnostics,
		CreatedAt:       time.Now().UTC(),
	}
}

// Result reconstructs the verification result the receipt recorded.
func (r *Receipt) Result() diag.Result {
	return diag.NewResult(r.Diagnostics)
}

// ReceiptStore persists and retrieves receipts.
type ReceiptStore interface {
	Save(ctx context.Context, r *Receipt) error
	Get(ctx context.Context, receiptID string) (*Receipt, error)
	// ListByCertificate returns the newest receipts for a certificate hash first.
	ListByCertificate(ctx context.Context, certificateHash string, limit int) ([]*Receipt, error)
	List(ctx context.Context, limit int) ([]*Receipt, error)
}
