// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

const failureMessage = "registration failed"

// Registrar runs the registration pipeline.
type Registrar interface {
	Register(ctx context.Context, req model.RegistrationRequest, proof *model.Proof) (*model.RegistrationResult, error)
}

// RegistrationHandler serves the public submission endpoint.
type RegistrationHandler struct {
	svc            Registrar
	maxUploadBytes int64
}

// NewRegistrationHandler constructs a RegistrationHandler.
func NewRegistrationHandler(svc Registrar, maxUploadBytes int64) *RegistrationHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &RegistrationHandler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Message: msg})
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// Submit handles POST /api/submit
// Accepts multipart/form-data (with an optional "proof" image) or JSON and
// issues one ticket per attendee. Any failure yields a single generic 500.
func (h *RegistrationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	req, proof, err := h.decode(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		slog.Warn("unreadable registration body, continuing with defaults", "error", err)
	}

	res, err := h.svc.Register(r.Context(), req, proof)
	if err != nil {
		slog.Error("registration failed", "error", err)
		writeError(w, http.StatusInternalServerError, failureMessage)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RegistrationHandler) decode(r *http.Request) (model.RegistrationRequest, *model.Proof, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data", "application/x-www-form-urlencoded":
		return h.decodeForm(r)
	default:
		req, err := decodeJSONBody(r.Body)
		return req, nil, err
	}
}

func (h *RegistrationHandler) decodeForm(r *http.Request) (model.RegistrationRequest, *model.Proof, error) {
	multipart := strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/")
	var err error
	if multipart {
		err = r.ParseMultipartForm(h.maxUploadBytes)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		return model.RegistrationRequest{}, nil, err
	}

	req := model.RegistrationRequest{
		Buyer:         decodeBuyer(json.RawMessage(quoteIfSet(r.FormValue("buyer")))),
		Attendees:     decodeAttendees(json.RawMessage(quoteIfSet(r.FormValue("attendees")))),
		TotalAmount:   r.FormValue("totalAmount"),
		PaymentMethod: r.FormValue("paymentMethod"),
		Name:          r.FormValue("name"),
		Email:         r.FormValue("email"),
		Phone:         r.FormValue("phone"),
	}

	if !multipart {
		return req, nil, nil
	}
	file, header, err := r.FormFile("proof")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, nil
	}
	if err != nil {
		return req, nil, err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return req, nil, err
	}
	return req, &model.Proof{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// rawRequest mirrors RegistrationRequest but keeps every field raw: buyer
// and attendees may arrive as objects or as JSON-encoded strings, and the
// scalar fields as numbers or strings.
type rawRequest struct {
	Buyer         json.RawMessage `json:"buyer"`
	Attendees     json.RawMessage `json:"attendees"`
	TotalAmount   json.RawMessage `json:"totalAmount"`
	PaymentMethod json.RawMessage `json:"paymentMethod"`
	Name          json.RawMessage `json:"name"`
	Email         json.RawMessage `json:"email"`
	Phone         json.RawMessage `json:"phone"`
}

func decodeJSONBody(body io.Reader) (model.RegistrationRequest, error) {
	var raw rawRequest
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return model.RegistrationRequest{}, nil
		}
		return model.RegistrationRequest{}, err
	}
	return model.RegistrationRequest{
		Buyer:         decodeBuyer(raw.Buyer),
		Attendees:     decodeAttendees(raw.Attendees),
		TotalAmount:   scalarString(raw.TotalAmount),
		PaymentMethod: scalarString(raw.PaymentMethod),
		Name:          scalarString(raw.Name),
		Email:         scalarString(raw.Email),
		Phone:         scalarString(raw.Phone),
	}, nil
}

func decodeBuyer(raw json.RawMessage) *model.Buyer {
	var b model.Buyer
	if !unmarshalLoose(raw, &b, "buyer") {
		return nil
	}
	return &b
}

func decodeAttendees(raw json.RawMessage) []model.Attendee {
	var a []model.Attendee
	if !unmarshalLoose(raw, &a, "attendees") {
		return nil
	}
	return a
}

// unmarshalLoose decodes raw into dst, unwrapping one level of JSON string
// encoding first. Failures are logged and reported as false.
func unmarshalLoose(raw json.RawMessage, dst any, field string) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			slog.Warn("could not parse field", "field", field, "error", err)
			return false
		}
		raw = json.RawMessage(strings.TrimSpace(s))
		if len(raw) == 0 {
			return false
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Warn("could not parse field", "field", field, "error", err)
		return false
	}
	return true
}

func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// quoteIfSet turns a form value into a JSON string literal so form fields
// and JSON bodies share the same loose decoding path.
func quoteIfSet(v string) []byte {
	if v == "" {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
