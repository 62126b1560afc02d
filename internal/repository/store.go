// Package repository implements the durable ticket stores: a Google Sheets
// spreadsheet (the operators' ledger) and a PostgreSQL table with an atomic
// pair uniqueness check.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

// ErrStoreUnavailable wraps failures talking to the backing store.
var ErrStoreUnavailable = errors.New("store unavailable")

// Store reads the issued pair history and appends new ticket rows.
type Store interface {
	IssuedPairs(ctx context.Context) ([]model.PrimePair, error)
	AppendRows(ctx context.Context, batchID string, rows []model.IssuedRow) error
}

// PairConflictError reports pairs the store refused because another writer
// already holds them. Nothing from the batch was persisted.
type PairConflictError struct {
	Keys []string
}

func (e *PairConflictError) Error() string {
	return fmt.Sprintf("pair already issued: %s", strings.Join(e.Keys, ", "))
}

// Has reports whether key is among the rejected pairs.
func (e *PairConflictError) Has(key string) bool {
	for _, k := range e.Keys {
		if k == key {
			return true
		}
	}
	return false
}
