package adminbyrequest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/securelens/securelens/internal/domain/errors"
	"github.com/securelens/securelens/internal/infrastructure/telemetry"
)

const serviceName = "adminbyrequest"

// Config contains configuration for the AdminByRequest API client.
type Config struct {
	BaseURL      string
	APIKey       string
	LookbackDays int
	Status       string
	Take         int
	WantGroups   bool
	MaxPages     int
	Timeout      time.Duration
	RateLimitRPS float64
}

// Client fetches audit logs and inventory from the AdminByRequest public
// API, following startid pagination.
type Client struct {
	config      Config
	client      *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithClock overrides the time source used for the audit date range.
func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

// NewClient creates a client. An API key is required.
func NewClient(config Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.NewConfigurationError("adminbyrequest.api_key", "an API key is required for live mode")
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://dc1api.adminbyrequest.com"
	}
	if config.Take <= 0 {
		config.Take = 100
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = 30
	}
	if config.Status == "" {
		config.Status = "Finished"
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 1000
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	burst := 1
	if config.RateLimitRPS > 0 {
		limit = rate.Limit(config.RateLimitRPS)
		burst = int(config.RateLimitRPS*2) + 1
	}

	c := &Client{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter: rate.NewLimiter(limit, burst),
		logger:      logger.With(zap.String("component", serviceName)),
		tracer:      otel.Tracer("github.com/securelens/securelens/adminbyrequest"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchAuditLogs returns every audit log entry with the configured status
// inside the lookback period.
func (c *Client) FetchAuditLogs(ctx context.Context) ([]AuditLogEntry, error) {
	now := c.now()
	params := url.Values{}
	params.Set("take", strconv.Itoa(c.config.Take))
	params.Set("startdate", now.AddDate(0, 0, -c.config.LookbackDays).Format("2006-01-02"))
	params.Set("enddate", now.Format("2006-01-02"))
	params.Set("status", c.config.Status)

	return fetchAll(ctx, c, "auditlog", params, func(e AuditLogEntry) int64 { return e.ID })
}

// FetchInventory returns every inventory entry.
func (c *Client) FetchInventory(ctx context.Context) ([]InventoryEntry, error) {
	params := url.Values{}
	params.Set("take", strconv.Itoa(c.config.Take))
	if c.config.WantGroups {
		params.Set("wantgroups", "1")
	}

	return fetchAll(ctx, c, "inventory", params, func(e InventoryEntry) int64 { return e.ID })
}

// fetchAll pages through an endpoint while pages come back full, moving
// startid past the highest id seen.
func fetchAll[T any](ctx context.Context, c *Client, endpoint string, params url.Values, id func(T) int64) ([]T, error) {
	all := make([]T, 0, c.config.Take)
	var startID int64

	for page := 0; page < c.config.MaxPages; page++ {
		if startID > 0 {
			params.Set("startid", strconv.FormatInt(startID, 10))
		}

		var batch []T
		if err := c.get(ctx, endpoint, params, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)

		if len(batch) < c.config.Take {
			c.logger.Debug("Fetched all pages",
				zap.String("endpoint", endpoint),
				zap.Int("pages", page+1),
				zap.Int("entries", len(all)),
			)
			return all, nil
		}

		next := startID
		for _, e := range batch {
			if v := id(e); v >= next {
				next = v + 1
			}
		}
		if next <= startID {
			// ids did not advance; stop instead of re-reading the same page
			c.logger.Warn("Pagination stalled", zap.String("endpoint", endpoint), zap.Int64("start_id", startID))
			return all, nil
		}
		startID = next
	}

	c.logger.Warn("Stopped at page limit",
		zap.String("endpoint", endpoint),
		zap.Int("max_pages", c.config.MaxPages),
		zap.Int("entries", len(all)),
	)
	return all, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s?%s", strings.TrimRight(c.config.BaseURL, "/"), endpoint, params.Encode())
	ctx, span := telemetry.StartHTTPClientSpan(ctx, c.tracer, http.MethodGet, reqURL)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.NewInternalError("failed to create request").WithCause(err)
	}
	req.Header.Set("apikey", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return errors.NewExternalError(serviceName, fmt.Sprintf("request to /%s failed", endpoint)).WithCause(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	c.logger.Debug("API request",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		appErr := errors.NewExternalError(serviceName,
			fmt.Sprintf("/%s returned %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body))))
		appErr.Retryable = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		appErr.Details["status_code"] = resp.StatusCode
		telemetry.RecordError(span, appErr)
		return appErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		telemetry.RecordError(span, err)
		return errors.NewExternalError(serviceName, fmt.Sprintf("decoding /%s response", endpoint)).WithCause(err)
	}
	return nil
}
