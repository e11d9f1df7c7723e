package notify

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/medwatch/medwatch/internal/logger"
	"github.com/medwatch/medwatch/internal/utils"
)

// Webhook posts alert text to a configured endpoint as {"text": "..."}.
// Delivery is fire-and-forget: failures are logged and never retried, never
// surfaced to the caller, never block a supervisory operation.
type Webhook struct {
	endpoint string
	client   *http.Client
	log      logger.Logger
}

func NewWebhook(endpoint string, timeout time.Duration, log logger.Logger) *Webhook {
	return &Webhook{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

type alertBody struct {
	Text string `json:"text"`
}

// Send delivers the alert in the background and returns immediately.
func (w *Webhook) Send(text string) {
	go w.post(text)
}

func (w *Webhook) post(text string) {
	body, err := json.Marshal(alertBody{Text: text})
	if err != nil {
		w.log.Error("failed to encode alert", logger.Error(err))
		return
	}

	resp, err := w.client.Post(w.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		w.log.Warn("alert delivery failed",
			logger.String("endpoint", w.endpoint),
			logger.Error(err))
		return
	}
	defer utils.Close(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		w.log.Warn("alert delivery rejected",
			logger.String("endpoint", w.endpoint),
			logger.Int("status", resp.StatusCode))
	}
}
