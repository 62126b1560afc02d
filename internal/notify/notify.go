// Package notify delivers the post-append batch summary to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/metrics"
	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

// Notifier receives the summary of a durably stored batch.
type Notifier interface {
	Notify(ctx context.Context, s model.BatchSummary) error
}

// Sink is a notifier with a name used in logs and metrics.
type Sink struct {
	Name string
	Notifier
}

// Multi fans a summary out to every sink. A failing sink does not stop the
// others; all errors are joined, each prefixed with its sink name, and left
// for the caller to log.
type Multi []Sink

// Notify delivers s to every sink.
func (m Multi) Notify(ctx context.Context, s model.BatchSummary) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Notify(ctx, s); err != nil {
			metrics.NotifyFailures.WithLabelValues(sink.Name).Inc()
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Caption renders the Markdown summary sent to the operators' chat.
func Caption(s model.BatchSummary) string {
	ids := make([]string, 0, len(s.PurchaseCodes))
	for _, c := range s.PurchaseCodes {
		ids = append(ids, "`"+c+"`")
	}
	return fmt.Sprintf(`✅ *Nueva Venta Registrada*

*Comprador:* %s
*Monto Pagado:* %s

--- IDs de Entradas ---
%s

--- Verificación OCR ---
Emisor: %s
Monto (OCR): %s
`, s.Buyer.Name, s.TotalAmount, strings.Join(ids, "\n"), orUndetected(s.OCR.Sender), orUndetected(s.OCR.Amount))
}

func orUndetected(v string) string {
	if v == "" {
		return "No detectado"
	}
	return v
}
