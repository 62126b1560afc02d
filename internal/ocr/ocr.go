// Package ocr extracts sender, receiver, amount and timestamp from a
// payment receipt image using a vision-capable chat model.
package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/Shivanand-hulikatti/ticket-codes/internal/model"
)

// Extractor reads receipt fields from an image.
type Extractor interface {
	Extract(ctx context.Context, proof model.Proof) (model.OCRData, error)
}

// Noop is used when no model is configured; every field stays unset.
type Noop struct{}

// Extract returns empty fields.
func (Noop) Extract(context.Context, model.Proof) (model.OCRData, error) {
	return model.OCRData{}, nil
}

const receiptPrompt = `You extract data from Bolivian bank transfer receipts.
Return only a JSON object with these string fields:
- "sender": full name of the person or entity that sent the money (labels such as
  'Pagado por', 'De', 'Enviado por', 'Ordenante', 'Remitente', 'Pagador',
  'Nombre titular', 'Nombre del originante', 'Cuenta de origen'). Simple or
  ATM receipts often omit it; if it is not explicitly visible use "No encontrado".
- "receiver": full name of the recipient ('A:', 'Para', 'Enviado a',
  'Beneficiario', 'Destinatario', 'Cuenta de destino', 'Cuenta acreditada', 'Solicitante').
- "amount": the transferred amount as a numeric string with a dot decimal
  separator (e.g. "100.00"), without currency symbols.
- "dateTime": the transaction date and time exactly as printed.
Use "No encontrado" for any field that cannot be found.`

// OpenAIExtractor sends the receipt to a vision model.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
}

// NewOpenAIExtractor returns an extractor using apiKey and model.
func NewOpenAIExtractor(apiKey, model string) *OpenAIExtractor {
	return &OpenAIExtractor{client: openai.NewClient(apiKey), model: model}
}

// NewOpenAIExtractorWithConfig accepts a full client config (base URL, HTTP client).
func NewOpenAIExtractorWithConfig(cfg openai.ClientConfig, model string) *OpenAIExtractor {
	return &OpenAIExtractor{client: openai.NewClientWithConfig(cfg), model: model}
}

// Extract asks the model for the receipt fields.
func (e *OpenAIExtractor) Extract(ctx context.Context, proof model.Proof) (model.OCRData, error) {
	if len(proof.Data) == 0 {
		return model.OCRData{}, errors.New("ocr: empty image")
	}
	mime := proof.ContentType
	if !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(proof.Data)
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(proof.Data)

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: receiptPrompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return model.OCRData{}, fmt.Errorf("ocr request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.OCRData{}, errors.New("ocr: model returned no choices")
	}
	slog.Debug("ocr response received", "finish_reason", resp.Choices[0].FinishReason)
	return parseReceipt(resp.Choices[0].Message.Content)
}

// parseReceipt decodes the model output, tolerating a markdown code fence.
func parseReceipt(text string) (model.OCRData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	var data model.OCRData
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &data); err != nil {
		return model.OCRData{}, fmt.Errorf("decode ocr json: %w", err)
	}
	return data, nil
}

// Failed is the field set recorded when extraction errors out.
func Failed() model.OCRData {
	return model.OCRData{
		Sender:   model.OCRFailed,
		Receiver: model.OCRFailed,
		Amount:   model.OCRFailed,
		DateTime: model.OCRFailed,
	}
}
