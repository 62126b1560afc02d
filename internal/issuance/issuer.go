package issuance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/prime"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 8

	// DefaultMaxClaimAttempts bounds the pair search for one attendee.
	DefaultMaxClaimAttempts = 1000
)

// ErrPairSpaceExhausted is returned when no unclaimed pair was found within
// the attempt ceiling.
var ErrPairSpaceExhausted = errors.New("issuance: pair space exhausted")

// Issuer mints purchase codes and claims prime pairs. Like the sampler it
// wraps, it is single-request state and not safe for concurrent use.
type Issuer struct {
	sampler     *prime.Sampler
	maxAttempts int
}

// NewIssuer returns an Issuer drawing from sampler. A non-positive
// maxAttempts selects DefaultMaxClaimAttempts.
func NewIssuer(sampler *prime.Sampler, maxAttempts int) *Issuer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxClaimAttempts
	}
	return &Issuer{sampler: sampler, maxAttempts: maxAttempts}
}

// PurchaseCode returns 8 characters drawn uniformly from [A-Z0-9].
// Codes are not checked against history.
func (is *Issuer) PurchaseCode() string {
	src := is.sampler.Rand()
	var b strings.Builder
	b.Grow(codeLength)
	for i := 0; i < codeLength; i++ {
		b.WriteByte(codeAlphabet[src.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// IssueOne mints a purchase code and claims a pair absent from ix. The
// claimed key is inserted into ix before returning.
func (is *Issuer) IssueOne(ix *PairIndex) (model.IssuedCode, error) {
	return is.claim(ix, is.PurchaseCode())
}

// Reclaim draws a new pair for code, keeping its purchase code. It is used
// when the store rejected the original pair.
func (is *Issuer) Reclaim(ix *PairIndex, code model.IssuedCode) (model.IssuedCode, error) {
	return is.claim(ix, code.PurchaseCode)
}

func (is *Issuer) claim(ix *PairIndex, purchaseCode string) (model.IssuedCode, error) {
	for attempt := 1; attempt <= is.maxAttempts; attempt++ {
		a, err := is.sampler.SixDigit()
		if err != nil {
			return model.IssuedCode{}, fmt.Errorf("sample prime: %w", err)
		}
		b, err := is.sampler.SixDigit()
		if err != nil {
			return model.IssuedCode{}, fmt.Errorf("sample prime: %w", err)
		}
		if a == b {
			continue
		}
		pair := model.PrimePair{A: a, B: b}
		key := pair.Key()
		if ix.Contains(key) {
			continue
		}
		ix.Insert(key)
		metrics.ClaimAttempts.Observe(float64(attempt))
		return model.IssuedCode{
			PurchaseCode: purchaseCode,
			Pair:         pair,
			Product:      pair.Product(),
		}, nil
	}
	return model.IssuedCode{}, fmt.Errorf("%w after %d attempts", ErrPairSpaceExhausted, is.maxAttempts)
}
