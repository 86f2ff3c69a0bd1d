package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

// flushTimeout is the per-attempt HTTP budget (spec §5: "SDK flush per
// attempt: 10 s").
const flushTimeout = 10 * time.Second

// client POSTs batches to {dsn}/ingest in the wire format of spec
// §6.1.
type client struct {
	httpClient *http.Client
	dsn        string
	apiKey     string
}

func newClient(dsn, apiKey string) *client {
	return &client{
		httpClient: &http.Client{Timeout: flushTimeout},
		dsn:        dsn,
		apiKey:     apiKey,
	}
}

type wireRecord struct {
	Timestamp  string         `json:"timestamp"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Service    string         `json:"service,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type wireEnvelope struct {
	APIKey string       `json:"api_key"`
	Logs   []wireRecord `json:"logs"`
}

// sendStatus discriminates the outcomes the flusher needs to act on
// (spec §4.E steps 4-6).
type sendStatus int

const (
	sendOK sendStatus = iota
	sendRejected          // 4xx other than 429/413: drop, no retry
	sendRetryable         // 429, 5xx, or network error: retry with backoff
	sendPayloadTooLarge   // 413: split the batch in half and retry each half once
)

func (c *client) send(ctx context.Context, batch []model.LogRecord) (sendStatus, error) {
	envelope := wireEnvelope{APIKey: c.apiKey, Logs: make([]wireRecord, len(batch))}
	for i, r := range batch {
		envelope.Logs[i] = toWireRecord(r)
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return sendRejected, err
	}

	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.dsn+"/ingest", bytes.NewReader(body))
	if err != nil {
		return sendRetryable, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sendRetryable, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return sendOK, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return sendRetryable, nil
	case resp.StatusCode >= 500:
		return sendRetryable, nil
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return sendPayloadTooLarge, fmt.Errorf("logsentry: server rejected batch as too large: %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return sendRejected, fmt.Errorf("logsentry: server rejected batch: %d", resp.StatusCode)
	default:
		return sendRetryable, fmt.Errorf("logsentry: unexpected status %d", resp.StatusCode)
	}
}

func toWireRecord(r model.LogRecord) wireRecord {
	w := wireRecord{
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339Nano),
		Level:     string(r.Level),
		Message:   r.Message,
		Service:   r.Service,
	}
	if len(r.Attributes) > 0 {
		w.Attributes = make(map[string]any, len(r.Attributes))
		for k, v := range r.Attributes {
			w.Attributes[k] = v.MarshalableAny()
		}
	}
	return w
}
