package httpx

import (
	"io"
	"net/http"

	"github.com/ariefcatur/go-order-payments/internal/webhook"
	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 1 << 20

const (
	HeaderWebhookSignature = "Webhook-Signature"
	HeaderWebhookTimestamp = "Webhook-Timestamp"
	HeaderWebhookID        = "Webhook-Id"
)

type WebhookHandler struct {
	Dispatcher *webhook.Dispatcher
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/payments", h.payment)
}

// payment answers 200 with the processing result for every delivery it
// could read; the gateway only retries on transport failures.
func (h *WebhookHandler) payment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	res := h.Dispatcher.Handle(r.Context(), body,
		r.Header.Get(HeaderWebhookSignature),
		r.Header.Get(HeaderWebhookTimestamp),
		r.Header.Get(HeaderWebhookID),
	)
	writeJSON(w, http.StatusOK, res)
}
