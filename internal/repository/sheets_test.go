package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/config"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

func TestPairsFromValuesSkipsHeaderAndBlanks(t *testing.T) {
	values := [][]interface{}{
		{"F1", "F2"},
		{float64(100003), float64(100019)},
		{"100043", " 100049 "},
		{"100057"},
		{"", float64(100069)},
		{"abc", "100073"},
		{float64(100003.5), float64(100019)},
		{},
	}
	pairs := pairsFromValues(values)
	assert.Equal(t, []model.PrimePair{
		{A: 100003, B: 100019},
		{A: 100043, B: 100049},
	}, pairs)
}

func TestPairsFromValuesEmpty(t *testing.T) {
	assert.Empty(t, pairsFromValues(nil))
	assert.Empty(t, pairsFromValues([][]interface{}{{"F1", "F2"}}))
}

func TestPairConflictError(t *testing.T) {
	err := &PairConflictError{Keys: []string{"1-2", "3-5"}}
	assert.True(t, err.Has("3-5"))
	assert.False(t, err.Has("2-1"))
	assert.Equal(t, "pair already issued: 1-2, 3-5", err.Error())
}

type fakeSheet struct {
	appended [][]interface{}
	input    string
	failGet  bool
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
		if f.failGet {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"range":"Respuestas!H1:I3","majorDimension":"ROWS",
			"values":[["F1","F2"],[100003,100019],[100043]]}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		var body struct {
			Values [][]interface{} `json:"values"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.appended = append(f.appended, body.Values...)
		f.input = r.URL.Query().Get("valueInputOption")
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet"}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestSheetsStore(t *testing.T, h http.Handler) *SheetsStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	store, err := NewSheetsStore(context.Background(),
		config.Sheets{SpreadsheetID: "sheet", HistoryRange: "Respuestas!H:I", AppendRange: "Respuestas!A:S"},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return store
}

func TestSheetsStoreIssuedPairs(t *testing.T) {
	store := newTestSheetsStore(t, &fakeSheet{})
	pairs, err := store.IssuedPairs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.PrimePair{{A: 100003, B: 100019}}, pairs)
}

func TestSheetsStoreReadFailure(t *testing.T) {
	store := newTestSheetsStore(t, &fakeSheet{failGet: true})
	_, err := store.IssuedPairs(context.Background())
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestSheetsStoreAppendRows(t *testing.T) {
	fake := &fakeSheet{}
	store := newTestSheetsStore(t, fake)
	row := model.NewIssuedRow(
		model.IssuedCode{PurchaseCode: "AB12CD34", Pair: model.PrimePair{A: 100003, B: 100019}, Product: 100003 * 100019},
		model.Attendee{FullName: "Ana", Phone: "700"},
		model.SharedFields{Buyer: model.Buyer{Name: "Ana"}, IssuedAt: time.Date(2025, 10, 6, 19, 27, 0, 0, time.UTC)},
	)

	require.NoError(t, store.AppendRows(context.Background(), "batch", []model.IssuedRow{row}))
	require.Len(t, fake.appended, 1)
	assert.Len(t, fake.appended[0], model.RowFieldCount)
	assert.Equal(t, "AB12CD34", fake.appended[0][0])
	assert.Equal(t, "USER_ENTERED", fake.input)
}

func TestSheetsStoreAppendNothing(t *testing.T) {
	fake := &fakeSheet{}
	store := newTestSheetsStore(t, fake)
	require.NoError(t, store.AppendRows(context.Background(), "batch", nil))
	assert.Empty(t, fake.appended)
}
