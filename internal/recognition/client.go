// Package recognition talks to the external face-recognition service that indexes
// record photos and searches them for similar faces.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/your-org/absens/internal/config"
	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/pkg/apperr"
	"github.com/your-org/absens/pkg/circuit"
)

var tracer = observability.Tracer("recognition")

// ErrBreakerOpen is returned without contacting the service while the breaker is open.
var ErrBreakerOpen = errors.New("recognition circuit open")

type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *circuit.Breaker
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func NewClient(cfg config.RecognitionConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		breaker: circuit.New("recognition",
			circuit.WithFailureThreshold(cfg.FailureThreshold),
			circuit.WithCooldown(cfg.Cooldown),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type photosRequest struct {
	RecordID  string      `json:"recordId,omitempty"`
	OwnerID   string      `json:"ownerId"`
	Kind      models.Kind `json:"kind"`
	PhotoURLs []string    `json:"photoUrls"`
}

// Success is only meaningful when the service sends it; a missing field is not a
// rejection.
type indexResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error,omitempty"`
}

type searchResponse struct {
	Success *bool                   `json:"success"`
	Matches []models.MatchCandidate `json:"matches"`
	Error   string                  `json:"error,omitempty"`
}

func rejected(success *bool) bool {
	return success != nil && !*success
}

// Index asks the service to add the photos of a record to its searchable index,
// keyed by the record's id. Any 2xx reply is success unless the body carries an
// explicit "success": false. A record without photos is a no-op.
func (c *Client) Index(ctx context.Context, kind models.Kind, recordID, ownerID string, photoURLs []string) error {
	if len(photoURLs) == 0 {
		return nil
	}
	body, err := c.call(ctx, "index", photosRequest{RecordID: recordID, OwnerID: ownerID, Kind: kind, PhotoURLs: photoURLs})
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	var resp indexResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		slog.Debug("ignoring unparseable index response", "record_id", recordID, "error", err)
		return nil
	}
	if rejected(resp.Success) {
		return apperr.New(apperr.CodeRecognitionUnavailable, "recognition rejected index request: "+resp.Error)
	}
	return nil
}

// Search returns scored candidates for faces similar to those in photoURLs, in the
// order the service ranked them. Only an explicit "success": false reads as no
// match. An empty photo list yields no candidates without a remote call.
func (c *Client) Search(ctx context.Context, kind models.Kind, ownerID string, photoURLs []string) ([]models.MatchCandidate, error) {
	if len(photoURLs) == 0 {
		return nil, nil
	}
	body, err := c.call(ctx, "search", photosRequest{OwnerID: ownerID, Kind: kind, PhotoURLs: photoURLs})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// the service answered, so a bad body does not count against the breaker
		return nil, apperr.Wrap(err, apperr.CodeRecognitionUnavailable, "decode recognition search response")
	}
	if rejected(resp.Success) {
		return nil, nil
	}
	return resp.Matches, nil
}

// call posts body to the service and returns the trimmed 2xx response body.
func (c *Client) call(ctx context.Context, op string, body any) (_ []byte, err error) {
	ctx, span := tracer.Start(ctx, "recognition."+op)
	defer span.End()
	span.SetAttributes(attribute.String("recognition.op", op))

	start := time.Now()
	outcome := "ok"
	defer func() {
		observability.RecognitionDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if !c.breaker.Allow() {
		outcome = "breaker_open"
		return nil, apperr.Wrap(ErrBreakerOpen, apperr.CodeRecognitionUnavailable, "recognition service unavailable")
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.do(ctx, op, body)
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
		// caller cancellation does not count against the service
		if !errors.Is(err, context.Canceled) {
			c.recordFailure()
		}
		return nil, apperr.Wrap(err, apperr.CodeRecognitionUnavailable, "recognition service unavailable")
	}
	c.recordSuccess()
	return resp, nil
}

const maxResponseBytes = 1 << 20

func (c *Client) do(ctx context.Context, op string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+op, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("recognition %s returned status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	return bytes.TrimSpace(raw), nil
}

func (c *Client) recordFailure() {
	if _, change := c.breaker.RecordFailure(); change.Opened {
		observability.RecognitionBreakerOpen.Set(1)
		slog.Warn("recognition circuit opened", "breaker", c.breaker.Name())
	}
}

func (c *Client) recordSuccess() {
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		observability.RecognitionBreakerOpen.Set(0)
		slog.Info("recognition circuit closed", "breaker", c.breaker.Name())
	}
}

// Ping reports whether the breaker is closed. It never claims the half-open trial call.
func (c *Client) Ping(context.Context) error {
	if c.breaker.IsOpen() {
		return ErrBreakerOpen
	}
	return nil
}
