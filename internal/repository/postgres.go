package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

// PostgresStore persists tickets in the issued_tickets table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// IssuedPairs returns every stored prime pair.
func (s *PostgresStore) IssuedPairs(ctx context.Context) ([]model.PrimePair, error) {
	rows, err := s.db.Query(ctx, `SELECT prime_a, prime_b FROM issued_tickets`)
	if err != nil {
		return nil, fmt.Errorf("%w: list pairs: %w", ErrStoreUnavailable, err)
	}
	pairs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.PrimePair, error) {
		var p model.PrimePair
		err := row.Scan(&p.A, &p.B)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan pairs: %w", ErrStoreUnavailable, err)
	}
	return pairs, nil
}

// AppendRows inserts the batch in one transaction.
//
// The snapshot read in IssuedPairs can be stale by the time the batch is
// written: another replica may have claimed the same pair in between. The
// unique index on (prime_low, prime_high) closes that window. Each insert
// uses ON CONFLICT DO NOTHING so every colliding pair of the batch is
// detected in one pass; if any row was skipped the whole transaction is
// rolled back and a *PairConflictError names the pairs to reclaim.
func (s *PostgresStore) AppendRows(ctx context.Context, batchID string, rows []model.IssuedRow) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ErrStoreUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var conflicts []string
	for _, r := range rows {
		tag, execErr := tx.Exec(ctx,
			`INSERT INTO issued_tickets (
				purchase_code, batch_id, attendee_name, attendee_phone,
				buyer_name, buyer_phone, buyer_email, identity_doc,
				prime_a, prime_b, product, total_amount, payment_method,
				has_proof, issued_at, ocr_sender, ocr_receiver, ocr_amount,
				ocr_datetime, validated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			 ON CONFLICT (prime_low, prime_high) DO NOTHING`,
			r.PurchaseCode, batchID, r.AttendeeName, r.AttendeePhone,
			r.BuyerName, r.BuyerPhone, r.BuyerEmail, r.IdentityDoc,
			r.PrimeA, r.PrimeB, r.Product, r.TotalAmount, r.PaymentMethod,
			r.HasProof, r.IssuedAt, r.OCRSender, r.OCRReceiver, r.OCRAmount,
			r.OCRDateTime, r.Validated,
		)
		if execErr != nil {
			err = fmt.Errorf("insert ticket %s: %w", r.PurchaseCode, execErr)
			return err
		}
		if tag.RowsAffected() == 0 {
			conflicts = append(conflicts, r.Pair().Key())
		}
	}
	if len(conflicts) > 0 {
		err = &PairConflictError{Keys: conflicts}
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
