package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/issuance"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/lock"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/notify"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/ocr"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/prime"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/repository"
)

// memStore is an in-memory Store with optional failure injection.
type memStore struct {
	mu         sync.Mutex
	pairs      []model.PrimePair
	appended   [][]model.IssuedRow
	readErr    error
	appendErr  error
	conflictOn map[string]bool
	// readDelay stretches the history read so concurrent requests overlap.
	readDelay time.Duration
}

func (m *memStore) IssuedPairs(context.Context) ([]model.PrimePair, error) {
	m.mu.Lock()
	if m.readErr != nil {
		m.mu.Unlock()
		return nil, m.readErr
	}
	pairs := append([]model.PrimePair(nil), m.pairs...)
	m.mu.Unlock()
	time.Sleep(m.readDelay)
	return pairs, nil
}

func (m *memStore) AppendRows(_ context.Context, _ string, rows []model.IssuedRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	var conflicts []string
	for _, r := range rows {
		if m.conflictOn[r.Pair().Key()] {
			conflicts = append(conflicts, r.Pair().Key())
		}
	}
	if len(conflicts) > 0 {
		return &repository.PairConflictError{Keys: conflicts}
	}
	m.appended = append(m.appended, rows)
	for _, r := range rows {
		m.pairs = append(m.pairs, r.Pair())
	}
	return nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []model.BatchSummary
	err       error
}

func (n *recordingNotifier) Notify(_ context.Context, s model.BatchSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, s)
	return n.err
}

// noLocker hands out the lock to every caller at once.
type noLocker struct{}

func (noLocker) Lock(context.Context, string) (lock.Unlock, error) { return func() {}, nil }

type stubExtractor struct {
	data  model.OCRData
	err   error
	calls int
}

func (e *stubExtractor) Extract(context.Context, model.Proof) (model.OCRData, error) {
	e.calls++
	return e.data, e.err
}

func newService(store *memStore, n *recordingNotifier, ex *stubExtractor, opts Options) *RegistrationService {
	svc := NewRegistrationService(store, lock.NewLocalLocker(), ex, n, opts)
	svc.now = func() time.Time { return time.Date(2025, 10, 6, 19, 27, 0, 0, time.UTC) }
	return svc
}

func attendees(n int) []model.Attendee {
	out := make([]model.Attendee, n)
	for i := range out {
		out[i] = model.Attendee{FullName: "Guest " + strconv.Itoa(i), Phone: strconv.Itoa(700 + i)}
	}
	return out
}

func TestNormalizeFlatFallback(t *testing.T) {
	got := Normalize(model.RegistrationRequest{Name: "Ana", Email: "a@x.com", Phone: "700"})
	require.Len(t, got.Attendees, 1)
	assert.Equal(t, model.Attendee{FullName: "Ana", Phone: "700", Email: "a@x.com"}, got.Attendees[0])
	assert.Equal(t, &model.Buyer{Name: "Ana", Email: "a@x.com", Phone: "700"}, got.Buyer)
}

func TestNormalizeKeepsStructuredRequest(t *testing.T) {
	req := model.RegistrationRequest{
		Buyer:     &model.Buyer{Name: "Luis"},
		Attendees: []model.Attendee{{FullName: "Eva"}},
		Name:      "ignored",
	}
	got := Normalize(req)
	assert.Equal(t, "Luis", got.Buyer.Name)
	assert.Equal(t, []model.Attendee{{FullName: "Eva"}}, got.Attendees)
}

func TestNormalizeDefaults(t *testing.T) {
	got := Normalize(model.RegistrationRequest{})
	assert.Equal(t, model.UnknownBuyer, got.Buyer.Name)
	assert.NotNil(t, got.Attendees)
	assert.Empty(t, got.Attendees)
}

func TestProcessBatchRows(t *testing.T) {
	preloaded := []model.PrimePair{{A: 100003, B: 100019}, {A: 100043, B: 100049}}
	ix := issuance.NewPairIndex(preloaded...)
	is := issuance.NewIssuer(prime.NewSampler(11, 0), 0)
	shared := model.SharedFields{
		Buyer:         model.Buyer{Name: "Ana", Phone: "700", Email: "a@x.com"},
		TotalAmount:   "300",
		PaymentMethod: "cash",
		IssuedAt:      time.Date(2025, 10, 6, 19, 27, 0, 0, time.UTC),
	}

	in := attendees(6)
	rows, err := ProcessBatch(is, ix, in, shared)
	require.NoError(t, err)
	require.Len(t, rows, len(in))

	seen := map[string]bool{}
	for i, r := range rows {
		assert.Equal(t, in[i].FullName, r.AttendeeName, "order preserved")
		key := r.Pair().Key()
		assert.False(t, seen[key])
		seen[key] = true
		for _, p := range preloaded {
			assert.NotEqual(t, p.Key(), key)
		}
		assert.Equal(t, strconv.FormatInt(r.PrimeA*r.PrimeB, 10), r.Product)
		assert.Equal(t, "No", r.HasProof)
		assert.Equal(t, "N/A", r.OCRSender)
		assert.Equal(t, "0", r.Validated)
		assert.Equal(t, "2025-10-06T19:27:00.000Z", r.IssuedAt)
		assert.Len(t, r.Values(), model.RowFieldCount)
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	rows, err := ProcessBatch(issuance.NewIssuer(prime.NewSampler(1, 0), 0), issuance.NewPairIndex(), nil, model.SharedFields{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRegisterEmptyBatchSkipsAppend(t *testing.T) {
	store := &memStore{}
	n := &recordingNotifier{}
	svc := newService(store, n, &stubExtractor{}, Options{})

	res, err := svc.Register(context.Background(), model.RegistrationRequest{Buyer: &model.Buyer{Name: "Ana"}}, nil)
	require.NoError(t, err)
	assert.Empty(t, res.PurchaseCodes)
	assert.Empty(t, store.appended)
	require.Len(t, n.summaries, 1)
	assert.Empty(t, n.summaries[0].PurchaseCodes)
}

func TestRegisterFlatFallbackIssuesOneRow(t *testing.T) {
	store := &memStore{}
	svc := newService(store, &recordingNotifier{}, &stubExtractor{}, Options{})

	res, err := svc.Register(context.Background(), model.RegistrationRequest{Name: "Ana", Email: "a@x.com", Phone: "700"}, nil)
	require.NoError(t, err)
	require.Len(t, res.PurchaseCodes, 1)
	require.Len(t, store.appended, 1)
	row := store.appended[0][0]
	assert.Equal(t, "Ana", row.AttendeeName)
	assert.Equal(t, "700", row.AttendeePhone)
	assert.Equal(t, "a@x.com", row.BuyerEmail)
	assert.Equal(t, res.PurchaseCodes[0], row.PurchaseCode)
}

func TestRegisterSurvivesHistoryReadFailure(t *testing.T) {
	store := &memStore{readErr: errors.New("sheet unavailable")}
	svc := newService(store, &recordingNotifier{}, &stubExtractor{}, Options{})

	res, err := svc.Register(context.Background(), model.RegistrationRequest{Attendees: attendees(1)}, nil)
	require.NoError(t, err)
	require.Len(t, res.PurchaseCodes, 1)
	require.Len(t, store.appended, 1)
	require.Len(t, store.appended[0], 1)
	r := store.appended[0][0]
	assert.NotEqual(t, r.PrimeA, r.PrimeB)
	assert.True(t, prime.IsPrime(r.PrimeA))
	assert.True(t, prime.IsPrime(r.PrimeB))
}

func TestRegisterStrictModeFailsOnReadFailure(t *testing.T) {
	store := &memStore{readErr: errors.New("sheet unavailable")}
	svc := newService(store, &recordingNotifier{}, &stubExtractor{}, Options{IndexMode: issuance.DegradeStrict})

	_, err := svc.Register(context.Background(), model.RegistrationRequest{Attendees: attendees(1)}, nil)
	assert.Error(t, err)
	assert.Empty(t, store.appended)
}

func TestRegisterAppendFailureIsNotSuccess(t *testing.T) {
	cause := errors.New("quota exceeded")
	n := &recordingNotifier{}
	svc := newService(&memStore{appendErr: cause}, n, &stubExtractor{}, Options{})

	res, err := svc.Register(context.Background(), model.RegistrationRequest{Attendees: attendees(2)}, nil)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, res)
	assert.Empty(t, n.summaries)
}

func TestRegisterNotificationFailureStillSucceeds(t *testing.T) {
	store := &memStore{}
	svc := newService(store, &recordingNotifier{err: errors.New("telegram down")}, &stubExtractor{}, Options{})

	res, err := svc.Register(context.Background(), model.RegistrationRequest{Attendees: attendees(1)}, nil)
	require.NoError(t, err)
	assert.Len(t, res.PurchaseCodes, 1)
}

func TestRegisterReclaimsConflictingPairs(t *testing.T) {
	// Discover the pairs the seeded stream yields first, then make the
	// store reject them as if another writer had just claimed them.
	const seed = 2024
	probe := issuance.NewIssuer(prime.NewSampler(seed, 0), 0)
	probeIx := issuance.NewPairIndex()
	first, err := probe.IssueOne(probeIx)
	require.NoError(t, err)

	store := &memStore{conflictOn: map[string]bool{first.Pair.Key(): true}}
	svc := newService(store, &recordingNotifier{}, &stubExtractor{}, Options{Seed: seed})

	res, err := svc.Register(context.Background(), model.RegistrationRequest{Attendees: attendees(3)}, nil)
	require.NoError(t, err)
	require.Len(t, store.appended, 1)
	rows := store.appended[0]
	require.Len(t, rows, 3)
	assert.Equal(t, first.PurchaseCode, rows[0].PurchaseCode, "purchase code survives reclaim")
	seen := map[string]bool{}
	for _, r := range rows {
		assert.NotEqual(t, first.Pair.Key(), r.Pair().Key())
		assert.False(t, seen[r.Pair().Key()])
		seen[r.Pair().Key()] = true
		assert.Equal(t, strconv.FormatInt(r.PrimeA*r.PrimeB, 10), r.Product)
	}
	assert.Equal(t, rows[0].PurchaseCode, res.PurchaseCodes[0])
}

func TestRegisterGivesUpAfterMaxAppendAttempts(t *testing.T) {
	store := &memStore{appendErr: &repository.PairConflictError{Keys: []string{"1-2"}}}
	svc := newService(store, &recordingNotifier{}, &stubExtractor{}, Options{MaxAppendAttempts: 2})

	_, err := svc.Register(context.Background(), model.RegistrationRequest{Attendees: attendees(1)}, nil)
	var conflict *repository.PairConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestRegisterQRProofRunsOCR(t *testing.T) {
	store := &memStore{}
	n := &recordingNotifier{}
	ex := &stubExtractor{data: model.OCRData{Sender: "Juan", Amount: "100.00"}}
	svc := newService(store, n, ex, Options{})

	proof := &model.Proof{Filename: "r.jpg", Data: []byte("img")}
	req := model.RegistrationRequest{PaymentMethod: model.PaymentQR, Attendees: attendees(1)}
	_, err := svc.Register(context.Background(), req, proof)
	require.NoError(t, err)

	assert.Equal(t, 1, ex.calls)
	row := store.appended[0][0]
	assert.Equal(t, "Sí", row.HasProof)
	assert.Equal(t, "Juan", row.OCRSender)
	assert.Equal(t, "N/A", row.OCRReceiver)
	assert.Same(t, proof, n.summaries[0].Proof)
}

func TestRegisterOCRFailureMarksFields(t *testing.T) {
	store := &memStore{}
	ex := &stubExtractor{err: errors.New("model timeout")}
	svc := newService(store, &recordingNotifier{}, ex, Options{})

	req := model.RegistrationRequest{PaymentMethod: model.PaymentQR, Attendees: attendees(1)}
	_, err := svc.Register(context.Background(), req, &model.Proof{Data: []byte("img")})
	require.NoError(t, err)
	assert.Equal(t, ocr.Failed().Sender, store.appended[0][0].OCRSender)
}

func TestRegisterSkipsOCRForNonQR(t *testing.T) {
	store := &memStore{}
	ex := &stubExtractor{}
	svc := newService(store, &recordingNotifier{}, ex, Options{})

	req := model.RegistrationRequest{PaymentMethod: "cash", Attendees: attendees(1)}
	_, err := svc.Register(context.Background(), req, &model.Proof{Data: []byte("img")})
	require.NoError(t, err)
	assert.Zero(t, ex.calls)
	assert.Equal(t, "No", store.appended[0][0].HasProof)
}

// registerConcurrently runs 20 five-attendee requests at once. Every request
// draws the same random stream, so any two that validate against the same
// history snapshot pick the same pairs.
func registerConcurrently(t *testing.T, locker lock.Locker) *memStore {
	t.Helper()
	store := &memStore{readDelay: 5 * time.Millisecond}
	svc := NewRegistrationService(store, locker, &stubExtractor{}, &recordingNotifier{}, Options{Seed: 42})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Register(context.Background(), model.RegistrationRequest{Attendees: attendees(5)}, nil); err != nil {
				t.Errorf("register: %v", err)
			}
		}()
	}
	wg.Wait()
	return store
}

func distinctPairs(pairs []model.PrimePair) int {
	seen := map[string]bool{}
	for _, p := range pairs {
		seen[p.Key()] = true
	}
	return len(seen)
}

func TestConcurrentRegistrationsNeverShareAPair(t *testing.T) {
	store := registerConcurrently(t, lock.NewLocalLocker())
	require.Len(t, store.pairs, 100)
	assert.Equal(t, 100, distinctPairs(store.pairs))
}

func TestConcurrentRegistrationsWithoutLockCollide(t *testing.T) {
	store := registerConcurrently(t, noLocker{})
	require.Len(t, store.pairs, 100)
	assert.Less(t, distinctPairs(store.pairs), 100)
}

func TestNotificationFailureLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	failing := notify.Multi{
		{Name: "telegram", Notifier: &recordingNotifier{err: errors.New("chat not found")}},
		{Name: "amqp", Notifier: &recordingNotifier{err: errors.New("connection refused")}},
	}
	svc := NewRegistrationService(&memStore{}, lock.NewLocalLocker(), &stubExtractor{}, failing, Options{})
	_, err := svc.Register(context.Background(), model.RegistrationRequest{Attendees: attendees(1)}, nil)
	require.NoError(t, err)

	var notifyLines []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if strings.Contains(line, "chat not found") {
			notifyLines = append(notifyLines, line)
		}
	}
	require.Len(t, notifyLines, 1)
	assert.Contains(t, notifyLines[0], "connection refused")
	assert.Contains(t, notifyLines[0], `"level":"WARN"`)
}
