package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-dynsync/core"
)

// NotFoundOnUpdateMarker is the literal error text Dynamics returns when a
// PATCH targets an entity that no longer exists. It signals a normal
// outcome, not a failure.
const NotFoundOnUpdateMarker = "No resources were found when selecting for update."

const (
	defaultMaxAttempts         = 5
	defaultInitialBackoff      = time.Second
	defaultMaxBackoff          = time.Minute
	defaultClientTimeout       = 30 * time.Second
	defaultResponseBodyLimit   = 10 << 20 // 10 MiB
	defaultBackoffGrowthFactor = 2
)

// Outcome distinguishes a completed write from a vanished update target.
// This replaces shared flag state with an explicit result variant.
type Outcome string

const (
	OutcomeWritten          Outcome = "written"
	OutcomeNotFoundOnUpdate Outcome = "not_found_on_update"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HeaderProvider supplies per-request auth headers. Called before every
// attempt so a stale token is refreshed transparently.
type HeaderProvider interface {
	AuthHeaders(ctx context.Context) (map[string]string, error)
}

type Request struct {
	Method   string
	Endpoint string
	Query    map[string]string
	Body     map[string]any
	// HasFileContent suppresses body logging for payloads that embed
	// base64 file content.
	HasFileContent bool
}

type Result struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Outcome    Outcome
	Note       string
}

// NoContent reports a 204 response; callers must not expect a JSON body.
func (r Result) NoContent() bool {
	return r.StatusCode == http.StatusNoContent
}

// JSON decodes the response body. A 204 or empty body yields an empty map.
func (r Result) JSON() (map[string]any, error) {
	if r.NoContent() || len(bytes.TrimSpace(r.Body)) == 0 {
		return map[string]any{}, nil
	}
	decoded := map[string]any{}
	if err := json.Unmarshal(r.Body, &decoded); err != nil {
		return nil, fmt.Errorf("transport: decode response body: %w", err)
	}
	return decoded, nil
}

// Executor issues HTTP calls against the Dynamics data root, classifies
// responses, and retries transient failures with exponential backoff.
type Executor struct {
	BaseURL              string
	Auth                 HeaderProvider
	Client               HTTPDoer
	Logger               core.Logger
	MaxAttempts          int
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxResponseBodyBytes int64
	Sleep                func(ctx context.Context, d time.Duration) error
}

func NewExecutor(baseURL string, auth HeaderProvider) *Executor {
	return &Executor{
		BaseURL:              strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Auth:                 auth,
		Client:               &http.Client{Timeout: defaultClientTimeout},
		Logger:               glog.Nop(),
		MaxAttempts:          defaultMaxAttempts,
		InitialBackoff:       defaultInitialBackoff,
		MaxBackoff:           defaultMaxBackoff,
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		Sleep:                sleepWithContext,
	}
}

// Execute performs one logical API call. Retriable classifications (429,
// 5xx, connection failures) are retried up to the attempt budget; all other
// failures surface immediately.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	if e == nil || e.Client == nil {
		return Result{}, fmt.Errorf("transport: executor requires an http client")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.TrimSpace(strings.ToUpper(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := e.buildURL(req)
	if err != nil {
		return Result{}, err
	}

	var lastErr error
	maxAttempts := e.maxAttempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := e.attempt(ctx, method, target, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetriable(err) || attempt == maxAttempts {
			return Result{}, err
		}
		delay := e.nextBackoff(attempt)
		e.logger().Warn("retrying request",
			"method", method,
			"url", target,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)
		if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
			return Result{}, sleepErr
		}
	}
	return Result{}, lastErr
}

func (e *Executor) attempt(ctx context.Context, method string, target string, req Request) (Result, error) {
	headers := map[string]string{}
	if e.Auth != nil {
		authHeaders, err := e.Auth.AuthHeaders(ctx)
		if err != nil {
			return Result{}, err
		}
		for key, value := range authHeaders {
			headers[key] = value
		}
	}

	var payload []byte
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return Result{}, fmt.Errorf("transport: encode request body: %w", err)
		}
		payload = encoded
		headers["Content-Type"] = "application/json"
	}

	e.logRequest(method, target, req, payload)

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("transport: create http request: %w", err)
	}
	for key, value := range headers {
		httpReq.Header.Set(key, value)
	}

	httpRes, err := e.Client.Do(httpReq)
	if err != nil {
		return Result{}, connectionError(err, method, target)
	}
	defer httpRes.Body.Close()

	limit := e.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit))
	if err != nil {
		return Result{}, connectionError(err, method, target)
	}

	return classify(httpRes.StatusCode, flattenHeaders(httpRes.Header), body)
}

func classify(status int, headers map[string]string, body []byte) (Result, error) {
	switch {
	case status >= 200 && status < 300:
		return Result{
			StatusCode: status,
			Headers:    headers,
			Body:       body,
			Outcome:    OutcomeWritten,
		}, nil
	case status == http.StatusBadRequest && bytes.Contains(body, []byte(NotFoundOnUpdateMarker)):
		return Result{
			StatusCode: status,
			Headers:    headers,
			Body:       body,
			Outcome:    OutcomeNotFoundOnUpdate,
			Note:       "target entity no longer exists, update skipped",
		}, nil
	case status == http.StatusTooManyRequests || status >= 500:
		return Result{}, retriableError(status, body)
	default:
		return Result{}, fatalError(status, body)
	}
}

func (e *Executor) buildURL(req Request) (string, error) {
	endpoint := strings.TrimSpace(req.Endpoint)
	if endpoint == "" {
		return "", fmt.Errorf("transport: endpoint is required")
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	parsed, err := url.Parse(e.BaseURL + endpoint)
	if err != nil {
		return "", fmt.Errorf("transport: invalid request url: %w", err)
	}
	query := parsed.Query()
	for key, value := range req.Query {
		if strings.TrimSpace(key) == "" {
			continue
		}
		query.Set(key, value)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func (e *Executor) logRequest(method string, target string, req Request, payload []byte) {
	args := []any{
		"method", method,
		"url", target,
	}
	if len(req.Query) > 0 {
		args = append(args, "query", fmt.Sprint(req.Query))
	}
	if len(payload) > 0 && !req.HasFileContent {
		args = append(args, "body", string(payload))
	}
	e.logger().Info("api request", args...)
}

func (e *Executor) logger() core.Logger {
	if e != nil && e.Logger != nil {
		return e.Logger
	}
	return glog.Nop()
}

func (e *Executor) maxAttempts() int {
	if e.MaxAttempts > 0 {
		return e.MaxAttempts
	}
	return defaultMaxAttempts
}

func (e *Executor) nextBackoff(attempt int) time.Duration {
	initial := e.InitialBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	maximum := e.MaxBackoff
	if maximum <= 0 {
		maximum = defaultMaxBackoff
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= defaultBackoffGrowthFactor
		if delay >= maximum {
			return maximum
		}
	}
	return delay
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	return sleepWithContext(ctx, d)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}
