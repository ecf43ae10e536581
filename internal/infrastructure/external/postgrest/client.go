// Package postgrest implements the remote progress store over a Supabase
// PostgREST endpoint (/rest/v1). Retry and circuit breaking are applied by
// the remote decorator; this client does one request per call, rate
// limited, and classifies the outcome.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rulesmaster/progress-sync/internal/domain/progress"
	"github.com/rulesmaster/progress-sync/internal/domain/quiz"
	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/pkg/logger"
)

const (
	domainRemote = "remote"

	tableProgress    = "user_progress"
	tableCompletions = "concept_completions"
	tableQuizResults = "quiz_results"

	// codeNoRows is returned with 406 when a single-object request matches zero rows.
	codeNoRows = "PGRST116"
	// codeUniqueViolation is the Postgres SQLSTATE forwarded on duplicate keys.
	codeUniqueViolation = "23505"

	mediaSingleObject = "application/vnd.pgrst.object+json"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains configuration for the PostgREST client.
type Config struct {
	// BaseURL is the project URL, e.g. "https://xyz.supabase.co".
	BaseURL string

	// APIKey is sent as the apikey header and, unless AccessToken is set,
	// as the bearer token.
	APIKey string

	// AccessToken is the signed-in user's JWT, if any.
	AccessToken string

	// Timeout bounds one HTTP round trip.
	Timeout time.Duration

	// RequestsPerSecond and Burst throttle outgoing requests. Zero disables.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
	Logger     *logger.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:           baseURL,
		APIKey:            apiKey,
		Timeout:           10 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client implements progress.RemoteStore and quiz.RemoteStore over HTTP.
type Client struct {
	config     Config
	restURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logger.Logger
}

var (
	_ progress.RemoteStore = (*Client)(nil)
	_ quiz.RemoteStore     = (*Client)(nil)
)

// NewClient creates a new PostgREST client.
func NewClient(config Config) *Client {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), max(config.Burst, 1))
	}

	return &Client{
		config:     config,
		restURL:    strings.TrimRight(config.BaseURL, "/") + "/rest/v1/",
		httpClient: httpClient,
		limiter:    limiter,
		logger:     config.Logger.With(logger.Component("postgrest")),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// progress.RemoteStore
// ─────────────────────────────────────────────────────────────────────────────

func (c *Client) FetchProgress(ctx context.Context, userID, gameID string) (*progress.UserProgress, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("game_id", "eq."+gameID)
	q.Set("select", "*")

	var row ProgressRowDTO
	err := c.do(ctx, "FetchProgress", request{
		method: http.MethodGet,
		table:  tableProgress,
		query:  q,
		accept: mediaSingleObject,
	}, &row)
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (c *Client) UpsertProgress(ctx context.Context, p *progress.UserProgress) error {
	q := url.Values{}
	q.Set("on_conflict", "user_id,game_id")

	return c.do(ctx, "UpsertProgress", request{
		method: http.MethodPost,
		table:  tableProgress,
		query:  q,
		body:   progressToRow(p),
		prefer: "resolution=merge-duplicates,return=minimal",
	}, nil)
}

func (c *Client) InsertCompletion(ctx context.Context, cc *progress.ConceptCompletion) error {
	return c.do(ctx, "InsertCompletion", request{
		method: http.MethodPost,
		table:  tableCompletions,
		body:   completionToRow(cc),
		prefer: "return=minimal",
	}, nil)
}

// ─────────────────────────────────────────────────────────────────────────────
// quiz.RemoteStore
// ─────────────────────────────────────────────────────────────────────────────

func (c *Client) InsertQuizResult(ctx context.Context, r *quiz.QuizResult) error {
	return c.do(ctx, "InsertQuizResult", request{
		method: http.MethodPost,
		table:  tableQuizResults,
		body:   quizResultToRow(r),
		prefer: "return=minimal",
	}, nil)
}

func (c *Client) FetchQuizResults(ctx context.Context, userID, conceptID string) ([]quiz.QuizResult, error) {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("concept_id", "eq."+conceptID)
	q.Set("order", "completed_at.asc,id.asc")
	q.Set("select", "*")

	var rows []QuizResultRowDTO
	if err := c.do(ctx, "FetchQuizResults", request{
		method: http.MethodGet,
		table:  tableQuizResults,
		query:  q,
	}, &rows); err != nil {
		return nil, err
	}

	out := make([]quiz.QuizResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type request struct {
	method string
	table  string
	query  url.Values
	body   any
	accept string
	prefer string
}

// do performs one rate-limited request and classifies the outcome.
func (c *Client) do(ctx context.Context, op string, r request, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return shared.Unavailable(domainRemote, op, fmt.Errorf("rate limiter: %w", err))
	}

	start := time.Now()
	status, body, err := c.roundTrip(ctx, r)
	c.logger.Debug("postgrest request",
		logger.Operation(op),
		logger.String("method", r.method),
		logger.String("table", r.table),
		logger.Int("status", status),
		logger.Latency(time.Since(start)),
	)
	if err != nil {
		return shared.Unavailable(domainRemote, op, err)
	}

	if status >= 400 {
		return classify(op, parseAPIError(status, body))
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return shared.Unavailable(domainRemote, op, fmt.Errorf("unmarshal response: %w", err))
		}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, r request) (int, []byte, error) {
	target := c.restURL + r.table
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var bodyReader io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}

	accept := r.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.prefer != "" {
		req.Header.Set("Prefer", r.prefer)
	}
	if c.config.APIKey != "" {
		req.Header.Set("apikey", c.config.APIKey)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) bearer() string {
	if c.config.AccessToken != "" {
		return c.config.AccessToken
	}
	return c.config.APIKey
}

func parseAPIError(status int, body []byte) *APIErrorDTO {
	apiErr := &APIErrorDTO{}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	apiErr.Status = status
	return apiErr
}

// classify maps a PostgREST error response to a remote DomainError.
func classify(op string, apiErr *APIErrorDTO) error {
	switch {
	case apiErr.Status == http.StatusNotFound || apiErr.Code == codeNoRows:
		return shared.WrapError(domainRemote, op, shared.ErrNotFound, apiErr.Message, apiErr)
	case apiErr.Status == http.StatusConflict || apiErr.Code == codeUniqueViolation:
		return shared.WrapError(domainRemote, op, shared.ErrAlreadyExists, apiErr.Message, apiErr)
	case apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnprocessableEntity:
		return shared.WrapError(domainRemote, op, shared.ErrInvalidInput, apiErr.Message, apiErr)
	default:
		return shared.Unavailable(domainRemote, op, apiErr)
	}
}

// AsAPIError extracts the PostgREST error body from err, if any.
func AsAPIError(err error) (*APIErrorDTO, bool) {
	var apiErr *APIErrorDTO
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
