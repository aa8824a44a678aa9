package telemetry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// CollectorConfig configures a CollectorClient.
type CollectorConfig struct {
	Endpoint       string
	Headers        map[string]string
	Timeout        time.Duration
	Insecure       bool
	ServiceName    string
	ServiceVersion string
}

func (c CollectorConfig) withDefaults() CollectorConfig {
	if c.Endpoint == "" {
		c.Endpoint = "http://localhost:4318/v1/logs"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ServiceName == "" {
		c.ServiceName = "corelib"
	}
	return c
}

// CollectorClient posts OTLP/HTTP-shaped log envelopes to a remote
// collector endpoint.
type CollectorClient struct {
	cfg    CollectorConfig
	client *http.Client
}

// NewCollectorClient builds a CollectorClient. When cfg.Insecure is true,
// TLS certificate verification is skipped — intended for talking to a
// local or sidecar collector over a self-signed endpoint.
func NewCollectorClient(cfg CollectorConfig) *CollectorClient {
	cfg = cfg.withDefaults()
	transport := &http.Transport{}
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &CollectorClient{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Send converts records to an OTLP envelope and POSTs it to the
// collector endpoint. Any status other than 200 or 202 is returned as an
// error; the caller (the batch worker) is responsible for deciding whether to log
// and drop or retry.
func (c *CollectorClient) Send(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	converted := make([]otlpLogRecord, 0, len(records))
	for _, r := range records {
		converted = append(converted, toRecord(r))
	}
	envelope := buildEnvelope(c.cfg.ServiceName, c.cfg.ServiceVersion, "corelib-telemetry", converted)

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("telemetry: marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telemetry: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry: send batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("telemetry: collector returned status %d", resp.StatusCode)
	}
	return nil
}
