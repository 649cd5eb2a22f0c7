// Package upstream talks to the Synchronie web application, which owns the
// scoring grids and stores saved cotations.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/synchronie/cotation/internal/domain"
)

const (
	gridPath = "/cotation/grille/%d/domaines"
	savePath = "/cotation/api/cotation/save"

	// maxBodySize caps upstream responses; grids are a few kilobytes.
	maxBodySize = 4 << 20
)

var tracer = otel.Tracer("cotation-upstream")

// Client loads grid schemas and posts cotation saves.
type Client struct {
	baseURL   string
	csrfToken string
	cookie    string
	http      *http.Client
}

var _ domain.SchemaLoader = (*Client)(nil)
var _ domain.PersistenceClient = (*Client)(nil)

// NewClient creates a reusable HTTP client.
func NewClient(cfg domain.UpstreamConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		csrfToken: cfg.CSRFToken,
		cookie:    cfg.Cookie,
		http:      &http.Client{Timeout: timeout},
	}
}

type gridResponse struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message,omitempty"`
	Error    string             `json:"error,omitempty"`
	Domaines []domain.DomainDef `json:"domaines"`
}

// LoadGrid fetches the domains of a grid and validates them.
func (c *Client) LoadGrid(ctx context.Context, gridID int64) (*domain.Grid, error) {
	if gridID <= 0 {
		return nil, &domain.SchemaError{GridID: gridID, Reason: "grid id must be positive"}
	}

	ctx, span := tracer.Start(ctx, "upstream.load_grid",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int64("cotation.grille_id", gridID)),
	)
	defer span.End()

	var resp gridResponse
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf(gridPath, gridID), nil, &resp)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if status == http.StatusNotFound {
			return nil, fmt.Errorf("grid %d: %w", gridID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("load grid %d: %w", gridID, err)
	}

	if !resp.Success {
		reason := resp.Message
		if reason == "" {
			reason = resp.Error
		}
		if reason == "" {
			reason = "grid could not be loaded"
		}
		span.SetStatus(codes.Error, reason)
		return nil, &domain.SchemaError{GridID: gridID, Reason: reason}
	}

	grid := &domain.Grid{ID: gridID, Domains: resp.Domaines}
	if err := grid.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("cotation.domains", len(grid.Domains)),
		attribute.Int("cotation.indicators", grid.IndicatorCount()),
	)

	slog.Debug("grid loaded",
		"grille_id", gridID,
		"domains", len(grid.Domains),
		"indicators", grid.IndicatorCount(),
	)

	return grid, nil
}

// Save posts a cotation. A response with success=false, or a transport
// failure, is returned as a *domain.PersistenceError.
func (c *Client) Save(ctx context.Context, payload *domain.SavePayload) (*domain.SaveResponse, error) {
	if payload == nil {
		return nil, &domain.PersistenceError{Message: "payload is required"}
	}

	ctx, span := tracer.Start(ctx, "upstream.save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int64("cotation.seance_id", payload.SeanceID),
			attribute.Int64("cotation.grille_id", payload.GrilleID),
			attribute.Int("cotation.scores", payload.Scores.Count()),
		),
	)
	defer span.End()

	var resp domain.SaveResponse
	status, err := c.do(ctx, http.MethodPost, savePath, payload, &resp)
	span.SetAttributes(attribute.Int("http.status_code", status))

	// the save endpoint answers failures with a JSON body and a 4xx/5xx status
	var statusErr *statusError
	if err != nil && !(errors.As(err, &statusErr) && statusErr.decoded) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &domain.PersistenceError{StatusCode: status, Err: err}
	}

	if !resp.Success {
		perr := &domain.PersistenceError{Message: resp.Reason(), StatusCode: status}
		span.SetStatus(codes.Error, perr.Error())
		return &resp, perr
	}

	return &resp, nil
}

// statusError reports a non-2xx response. decoded is set when the body was
// still a valid JSON answer.
type statusError struct {
	status  int
	decoded bool
}

func (e *statusError) Error() string {
	return "unexpected status " + strconv.Itoa(e.status) + " " + http.StatusText(e.status)
}

func (c *Client) do(ctx context.Context, method, path string, payload any, v any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.csrfToken != "" {
		req.Header.Set("X-CSRFToken", c.csrfToken)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(v)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &statusError{status: resp.StatusCode, decoded: decodeErr == nil}
	}
	if decodeErr != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr)
	}

	return resp.StatusCode, nil
}
