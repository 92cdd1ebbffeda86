// Package upstream queries frames from a LoRaDB instance.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lorawan-server/lorawan-analytics/internal/auth"
	"github.com/lorawan-server/lorawan-analytics/internal/models"
	"github.com/lorawan-server/lorawan-analytics/pkg/lorawan"
)

// DefaultMaxFrames matches the query service's own result cap.
const DefaultMaxFrames = 10000

var (
	ErrUpstreamStatus = errors.New("upstream returned an error status")
	ErrInvalidWindow  = errors.New("invalid query window")
	ErrInvalidDevEUI  = errors.New("invalid device EUI")
)

var durationPattern = regexp.MustCompile(`^[0-9]+(ms|s|m|h|d|w)$`)

// TokenSource supplies the bearer token for a request.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a long-lived "ldb_" API token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	return string(t), nil
}

// JWTSource mints a short-lived token per request from the shared secret.
type JWTSource struct {
	Manager *auth.JWTManager
	Subject string
	TTL     time.Duration
}

// Token implements TokenSource.
func (s JWTSource) Token() (string, error) {
	return s.Manager.GenerateToken(s.Subject, s.TTL)
}

// Window selects the time range of a query. Exactly one of Last, Since or
// the Start/End pair is set.
type Window struct {
	Last  string
	Since time.Time
	Start time.Time
	End   time.Time
}

// LastWindow returns a window covering the trailing duration d, e.g. "1h".
func LastWindow(d string) Window {
	return Window{Last: d}
}

func (w Window) clause() (string, error) {
	switch {
	case w.Last != "":
		if !durationPattern.MatchString(w.Last) {
			return "", fmt.Errorf("%w: duration %q", ErrInvalidWindow, w.Last)
		}
		return fmt.Sprintf("LAST '%s'", w.Last), nil
	case !w.Start.IsZero() || !w.End.IsZero():
		if w.Start.IsZero() || w.End.IsZero() || w.End.Before(w.Start) {
			return "", fmt.Errorf("%w: between needs start <= end", ErrInvalidWindow)
		}
		return fmt.Sprintf("BETWEEN '%s' AND '%s'", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339)), nil
	case !w.Since.IsZero():
		return fmt.Sprintf("SINCE '%s'", w.Since.UTC().Format(time.RFC3339)), nil
	default:
		return "", fmt.Errorf("%w: no range given", ErrInvalidWindow)
	}
}

// BuildQuery renders the query for the uplinks of one device.
func BuildQuery(devEUI string, w Window, limit int) (string, error) {
	eui, err := lorawan.ParseEUI64(devEUI)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDevEUI, err)
	}
	where, err := w.clause()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT uplink FROM device '%s' WHERE %s", eui.Upper(), where)
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	return sb.String(), nil
}

// Result is the query service response.
type Result struct {
	DevEUI      string            `json:"dev_eui"`
	TotalFrames int               `json:"total_frames"`
	Frames      []json.RawMessage `json:"frames"`
}

type queryRequest struct {
	Query string `json:"query"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Client is a LoRaDB query client.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	maxFrames  int
	logger     zerolog.Logger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, tokens TokenSource, timeout time.Duration, maxFrames int, logger zerolog.Logger) *Client {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		maxFrames:  maxFrames,
		logger:     logger,
	}
}

// MaxFrames returns the per-query frame cap.
func (c *Client) MaxFrames() int {
	return c.maxFrames
}

// QueryFrames fetches the uplinks of devEUI within w. Records that fail to
// decode are returned as decode errors alongside the good frames.
func (c *Client) QueryFrames(ctx context.Context, devEUI string, w Window) ([]models.Frame, []models.DecodeError, error) {
	query, err := BuildQuery(devEUI, w, c.maxFrames)
	if err != nil {
		return nil, nil, err
	}
	body, err := json.Marshal(queryRequest{Query: query})
	if err != nil {
		return nil, nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("upstream token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("query upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, statusError(resp)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, nil, fmt.Errorf("decode upstream response: %w", err)
	}

	frames, decodeErrs := models.DecodeFrameList(result.Frames)
	c.logger.Debug().
		Str("dev_eui", devEUI).
		Int("frames", len(frames)).
		Int("rejected", len(decodeErrs)).
		Dur("took", time.Since(start)).
		Msg("Queried upstream frames")
	return frames, decodeErrs, nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e errorResponse
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &e) == nil {
		switch {
		case e.Message != "":
			msg = e.Message
		case e.Error != "":
			msg = e.Error
		}
	}
	return &StatusError{Code: resp.StatusCode, Message: msg}
}

// StatusError is returned for non-2xx responses. It wraps ErrUpstreamStatus.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return ErrUpstreamStatus
}
