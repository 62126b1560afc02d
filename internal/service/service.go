// Package service implements the registration pipeline: input
// normalisation, receipt OCR, the serialised claim of unique prime pairs,
// the batch append and the operator notification.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/issuance"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/lock"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/notify"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/ocr"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/prime"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/repository"
)

const successMessage = "Registro de múltiples asistentes exitoso!"

// Options tunes the claim pipeline. Zero values select defaults.
type Options struct {
	IndexMode         issuance.DegradeMode
	MaxPrimeSamples   int
	MaxClaimAttempts  int
	MaxAppendAttempts int
	LockKey           string
	LockWait          time.Duration
	// Seed fixes the random stream of every request; zero seeds each
	// request from crypto/rand. Tests only.
	Seed int64
}

func (o Options) withDefaults() Options {
	if o.IndexMode == "" {
		o.IndexMode = issuance.DegradeAvailable
	}
	if o.MaxAppendAttempts <= 0 {
		o.MaxAppendAttempts = 3
	}
	if o.LockKey == "" {
		o.LockKey = "ticket-codes:pairs"
	}
	if o.LockWait <= 0 {
		o.LockWait = 10 * time.Second
	}
	return o
}

// RegistrationService orchestrates one registration request.
type RegistrationService struct {
	store     repository.Store
	locker    lock.Locker
	extractor ocr.Extractor
	notifier  notify.Notifier
	opts      Options
	now       func() time.Time
}

// NewRegistrationService constructs a RegistrationService with its dependencies.
func NewRegistrationService(
	store repository.Store,
	locker lock.Locker,
	extractor ocr.Extractor,
	notifier notify.Notifier,
	opts Options,
) *RegistrationService {
	return &RegistrationService{
		store:     store,
		locker:    locker,
		extractor: extractor,
		notifier:  notifier,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Normalize applies the input compatibility rules. Clients that send only
// flat name/email/phone fields (no attendee list) get a single-attendee
// batch whose buyer is that same person. A missing buyer becomes
// "Desconocido" and a missing attendee list an empty one.
func Normalize(req model.RegistrationRequest) model.RegistrationRequest {
	if len(req.Attendees) == 0 && req.Name != "" {
		req.Buyer = &model.Buyer{Name: req.Name, Email: req.Email, Phone: req.Phone}
		req.Attendees = []model.Attendee{{FullName: req.Name, Phone: req.Phone, Email: req.Email}}
	}
	if req.Buyer == nil {
		req.Buyer = &model.Buyer{Name: model.UnknownBuyer}
	}
	if req.Attendees == nil {
		req.Attendees = []model.Attendee{}
	}
	return req
}

// ProcessBatch issues one code per attendee, in order, claiming each pair in
// ix before moving on so no two attendees share a pair.
func ProcessBatch(is *issuance.Issuer, ix *issuance.PairIndex, attendees []model.Attendee, shared model.SharedFields) ([]model.IssuedRow, error) {
	rows := make([]model.IssuedRow, 0, len(attendees))
	for _, a := range attendees {
		code, err := is.IssueOne(ix)
		if err != nil {
			return nil, fmt.Errorf("issue code for %q: %w", a.FullName, err)
		}
		slog.Debug("pair claimed", "attendee", a.FullName, "pair", code.Pair.Key())
		rows = append(rows, model.NewIssuedRow(code, a, shared))
	}
	return rows, nil
}

// Register runs the full pipeline for req. proof may be nil. Either every
// row is durably stored and a result is returned, or an error is returned
// and nothing is reported as issued.
func (s *RegistrationService) Register(ctx context.Context, req model.RegistrationRequest, proof *model.Proof) (*model.RegistrationResult, error) {
	req = Normalize(req)
	hasProof := req.PaymentMethod == model.PaymentQR && proof != nil && len(proof.Data) > 0

	var ocrData model.OCRData
	if hasProof {
		ocrData = s.readReceipt(ctx, *proof)
	}

	batchID := uuid.NewString()
	shared := model.SharedFields{
		Buyer:         *req.Buyer,
		TotalAmount:   req.TotalAmount,
		PaymentMethod: req.PaymentMethod,
		HasProof:      hasProof,
		IssuedAt:      s.now(),
		OCR:           ocrData,
	}

	rows, err := s.claimAndAppend(ctx, batchID, req.Attendees, shared)
	if err != nil {
		metrics.Registrations.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Registrations.WithLabelValues("ok").Inc()
	metrics.CodesIssued.Add(float64(len(rows)))

	codes := make([]string, 0, len(rows))
	for _, r := range rows {
		codes = append(codes, r.PurchaseCode)
	}
	slog.Info("registration stored", "batch_id", batchID, "tickets", len(codes), "buyer", shared.Buyer.Name)

	summary := model.BatchSummary{
		BatchID:       batchID,
		Buyer:         shared.Buyer,
		TotalAmount:   req.TotalAmount,
		PaymentMethod: req.PaymentMethod,
		PurchaseCodes: codes,
		OCR:           ocrData,
	}
	if hasProof {
		summary.Proof = proof
	}
	// The rows are durable; a failed notification must not make the client retry.
	if err := s.notifier.Notify(ctx, summary); err != nil {
		slog.Warn("batch stored but notification incomplete", "batch_id", batchID, "error", err)
	}

	return &model.RegistrationResult{Message: successMessage, BatchID: batchID, PurchaseCodes: codes}, nil
}

func (s *RegistrationService) readReceipt(ctx context.Context, proof model.Proof) model.OCRData {
	data, err := s.extractor.Extract(ctx, proof)
	if err != nil {
		slog.Error("receipt extraction failed", "error", err)
		return ocr.Failed()
	}
	return data
}

// claimAndAppend holds the claim lock across snapshot, claim and append so
// that no other writer can validate a pair against the same snapshot. Stores
// that still detect a conflict (another service writing the same table)
// trigger a reclaim of the rejected rows and a bounded retry.
func (s *RegistrationService) claimAndAppend(ctx context.Context, batchID string, attendees []model.Attendee, shared model.SharedFields) ([]model.IssuedRow, error) {
	if len(attendees) == 0 {
		return []model.IssuedRow{}, nil
	}

	lockCtx, cancel := context.WithTimeout(ctx, s.opts.LockWait)
	unlock, err := s.locker.Lock(lockCtx, s.opts.LockKey)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("acquire claim lock: %w", err)
	}
	defer unlock()

	ix, err := issuance.LoadIndex(ctx, s.store, s.opts.IndexMode)
	if err != nil {
		return nil, err
	}
	is := issuance.NewIssuer(prime.NewSampler(s.opts.Seed, s.opts.MaxPrimeSamples), s.opts.MaxClaimAttempts)

	rows, err := ProcessBatch(is, ix, attendees, shared)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		err = s.store.AppendRows(ctx, batchID, rows)
		if err == nil {
			return rows, nil
		}
		var conflict *repository.PairConflictError
		if !errors.As(err, &conflict) || attempt >= s.opts.MaxAppendAttempts {
			return nil, fmt.Errorf("append rows: %w", err)
		}
		metrics.AppendConflicts.Add(float64(len(conflict.Keys)))
		slog.Warn("pairs claimed by another writer, reclaiming", "batch_id", batchID, "pairs", conflict.Keys, "attempt", attempt)
		if rows, err = reclaim(is, ix, rows, conflict); err != nil {
			return nil, err
		}
	}
}

// reclaim returns a copy of rows in which every row rejected by conflict
// carries a fresh pair. The rejected keys are added to ix first.
func reclaim(is *issuance.Issuer, ix *issuance.PairIndex, rows []model.IssuedRow, conflict *repository.PairConflictError) ([]model.IssuedRow, error) {
	for _, k := range conflict.Keys {
		ix.Insert(k)
	}
	out := make([]model.IssuedRow, len(rows))
	for i, r := range rows {
		if !conflict.Has(r.Pair().Key()) {
			out[i] = r
			continue
		}
		code, err := is.Reclaim(ix, model.IssuedCode{PurchaseCode: r.PurchaseCode})
		if err != nil {
			return nil, fmt.Errorf("reclaim pair for %s: %w", r.PurchaseCode, err)
		}
		out[i] = r.WithCode(code)
	}
	return out, nil
}
