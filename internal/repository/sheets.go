package repository

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/config"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

// SheetsStore keeps tickets in a Google Sheets spreadsheet, one row per
// attendee. The sheet has no uniqueness primitive; callers must serialise
// read-then-append through a lock.
type SheetsStore struct {
	svc           *sheets.Service
	spreadsheetID string
	historyRange  string
	appendRange   string
}

// NewSheetsStore authenticates with the service account in cfg. Extra
// options are appended after the credentials (tests point the client at a
// local endpoint).
func NewSheetsStore(ctx context.Context, cfg config.Sheets, opts ...option.ClientOption) (*SheetsStore, error) {
	all := opts
	if cfg.CredentialsJSON != "" {
		all = append([]option.ClientOption{
			option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)),
			option.WithScopes(sheets.SpreadsheetsScope),
		}, opts...)
	}
	svc, err := sheets.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets client: %w", err)
	}
	return &SheetsStore{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		historyRange:  cfg.HistoryRange,
		appendRange:   cfg.AppendRange,
	}, nil
}

// IssuedPairs reads the two prime columns, skipping the header row and any
// row with a missing or non-integer value.
func (s *SheetsStore) IssuedPairs(ctx context.Context) ([]model.PrimePair, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.historyRange).
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrStoreUnavailable, s.historyRange, err)
	}
	return pairsFromValues(resp.Values), nil
}

// AppendRows appends the batch as USER_ENTERED rows. batchID has no column
// in the sheet layout.
func (s *SheetsStore) AppendRows(ctx context.Context, _ string, rows []model.IssuedRow) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		values = append(values, r.Values())
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.appendRange, &sheets.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%w: append %d rows: %w", ErrStoreUnavailable, len(rows), err)
	}
	return nil
}

func pairsFromValues(values [][]interface{}) []model.PrimePair {
	if len(values) <= 1 {
		return nil
	}
	pairs := make([]model.PrimePair, 0, len(values)-1)
	for _, row := range values[1:] {
		if len(row) < 2 {
			continue
		}
		a, okA := cellInt(row[0])
		b, okB := cellInt(row[1])
		if !okA || !okB {
			continue
		}
		pairs = append(pairs, model.PrimePair{A: a, B: b})
	}
	return pairs
}

// cellInt reads an integer cell. UNFORMATTED_VALUE yields float64 for
// numbers; text cells come back as strings.
func cellInt(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || t == 0 {
			return 0, false
		}
		return int64(t), true
	case string:
		t = strings.TrimSpace(t)
		if t == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
