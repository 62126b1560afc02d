// Package model defines the core domain types for the ticket code issuance service.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// Sentinel cell values written to the sheet.
const (
	NotFound       = "N/A"
	OCRFailed      = "404"
	NotValidated   = "0"
	ProofAttached  = "Sí"
	ProofMissing   = "No"
	UnknownBuyer   = "Desconocido"
	PaymentQR      = "qr"
	RowFieldCount  = 19
	timestampShape = "2006-01-02T15:04:05.000Z07:00"
)

// Attendee is one person a ticket is issued for.
type Attendee struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email"`
}

// Buyer is the person paying for the whole batch.
type Buyer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// RegistrationRequest is the decoded registration payload. Name, Email and
// Phone are the flat single-attendee fields older clients send instead of
// Buyer and Attendees.
type RegistrationRequest struct {
	Buyer         *Buyer     `json:"buyer"`
	Attendees     []Attendee `json:"attendees"`
	TotalAmount   string     `json:"totalAmount"`
	PaymentMethod string     `json:"paymentMethod"`

	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Proof is an uploaded proof-of-payment image.
type Proof struct {
	Filename    string
	ContentType string
	Data        []byte
}

// OCRData holds the fields read from a payment receipt.
type OCRData struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   string `json:"amount"`
	DateTime string `json:"dateTime"`
}

// PrimePair is an unordered pair of distinct six-digit primes.
type PrimePair struct {
	A int64 `json:"a"`
	B int64 `json:"b"`
}

// Key returns the canonical "<min>-<max>" encoding of the pair.
func (p PrimePair) Key() string {
	lo, hi := p.A, p.B
	if lo > hi {
		lo, hi = hi, lo
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

// Product returns A*B, the integrity code stored with the ticket.
func (p PrimePair) Product() int64 {
	return p.A * p.B
}

// IssuedCode is the tuple minted for a single attendee.
type IssuedCode struct {
	PurchaseCode string
	Pair         PrimePair
	Product      int64
}

// SharedFields are the purchase fields common to every row of one batch.
type SharedFields struct {
	Buyer         Buyer
	TotalAmount   string
	PaymentMethod string
	HasProof      bool
	IssuedAt      time.Time
	OCR           OCRData
}

// IssuedRow is one persisted ticket record. It is built once and never
// mutated after the batch is appended.
type IssuedRow struct {
	PurchaseCode  string
	AttendeeName  string
	AttendeePhone string
	BuyerName     string
	BuyerPhone    string
	BuyerEmail    string
	IdentityDoc   string
	PrimeA        int64
	PrimeB        int64
	Product       string
	TotalAmount   string
	PaymentMethod string
	HasProof      string
	IssuedAt      string
	OCRSender     string
	OCRReceiver   string
	OCRAmount     string
	OCRDateTime   string
	Validated     string
}

// Pair returns the prime pair stored in the row.
func (r IssuedRow) Pair() PrimePair {
	return PrimePair{A: r.PrimeA, B: r.PrimeB}
}

// Values returns the 19 cells of the row in sheet column order (A..S).
func (r IssuedRow) Values() []any {
	return []any{
		r.PurchaseCode,
		r.AttendeeName,
		r.AttendeePhone,
		r.BuyerName,
		r.BuyerPhone,
		r.BuyerEmail,
		r.IdentityDoc,
		r.PrimeA,
		r.PrimeB,
		r.Product,
		r.TotalAmount,
		r.PaymentMethod,
		r.HasProof,
		r.IssuedAt,
		r.OCRSender,
		r.OCRReceiver,
		r.OCRAmount,
		r.OCRDateTime,
		r.Validated,
	}
}

// NewIssuedRow combines an issued tuple with attendee and batch fields.
func NewIssuedRow(code IssuedCode, a Attendee, shared SharedFields) IssuedRow {
	proof := ProofMissing
	if shared.HasProof {
		proof = ProofAttached
	}
	return IssuedRow{
		PurchaseCode:  code.PurchaseCode,
		AttendeeName:  a.FullName,
		AttendeePhone: a.Phone,
		BuyerName:     shared.Buyer.Name,
		BuyerPhone:    shared.Buyer.Phone,
		BuyerEmail:    shared.Buyer.Email,
		PrimeA:        code.Pair.A,
		PrimeB:        code.Pair.B,
		Product:       strconv.FormatInt(code.Product, 10),
		TotalAmount:   shared.TotalAmount,
		PaymentMethod: shared.PaymentMethod,
		HasProof:      proof,
		IssuedAt:      shared.IssuedAt.UTC().Format(timestampShape),
		OCRSender:     orNotFound(shared.OCR.Sender),
		OCRReceiver:   orNotFound(shared.OCR.Receiver),
		OCRAmount:     orNotFound(shared.OCR.Amount),
		OCRDateTime:   orNotFound(shared.OCR.DateTime),
		Validated:     NotValidated,
	}
}

// WithCode returns a copy of the row carrying a freshly claimed pair.
func (r IssuedRow) WithCode(code IssuedCode) IssuedRow {
	r.PurchaseCode = code.PurchaseCode
	r.PrimeA = code.Pair.A
	r.PrimeB = code.Pair.B
	r.Product = strconv.FormatInt(code.Product, 10)
	return r
}

func orNotFound(s string) string {
	if s == "" {
		return NotFound
	}
	return s
}

// BatchSummary is what notifiers receive once a batch is durably stored.
type BatchSummary struct {
	BatchID       string
	Buyer         Buyer
	TotalAmount   string
	PaymentMethod string
	PurchaseCodes []string
	OCR           OCRData
	Proof         *Proof
}

// RegistrationResult is returned to the HTTP caller.
type RegistrationResult struct {
	Message       string   `json:"message"`
	BatchID       string   `json:"batchId"`
	PurchaseCodes []string `json:"purchaseCodes"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Message string `json:"message"`
}
