package mailbox

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/beam-cloud/synopsis/pkg/common"
	"github.com/beam-cloud/synopsis/pkg/types"
)

const serviceName = "gmail"

// API call counter for metrics
var apiCallCount = atomic.NewInt64(0)

// APICallCount returns the number of Gmail API calls made by this process
func APICallCount() int64 {
	return apiCallCount.Load()
}

// MessagePage is one page of message ids
type MessagePage struct {
	Ids                []string `json:"ids"`
	NextPageToken      string   `json:"next_page_token,omitempty"`
	ResultSizeEstimate int64    `json:"result_size_estimate"`
}

// Client wraps the Gmail API with typed errors and retry for listing
type Client struct {
	cfg        types.MailboxConfig
	clock      common.Clock
	httpClient *http.Client
}

// NewClient creates a Gmail client. The access token is supplied per call.
func NewClient(cfg types.MailboxConfig, clock common.Clock) *Client {
	if cfg.UserId == "" {
		cfg.UserId = "me"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		clock:      clock,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (c *Client) service(ctx context.Context, token string) (*gmail.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if c.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.cfg.Endpoint))
	}
	return gmail.NewService(ctx, opts...)
}

// ListMessageIds returns one page of message ids. Rate limits and connection
// resets are retried with exponential backoff; other errors return immediately.
func (c *Client) ListMessageIds(ctx context.Context, token, pageToken string, pageSize int64) (*MessagePage, error) {
	if token == "" {
		return nil, &types.AuthError{Service: serviceName, Message: "missing access token"}
	}
	if pageSize <= 0 {
		pageSize = c.cfg.DefaultPageSize
	}

	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	var resp *gmail.ListMessagesResponse
	err = c.withRetry(ctx, "list", func() error {
		apiCallCount.Inc()
		call := svc.Users.Messages.List(c.cfg.UserId).MaxResults(pageSize).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		r, err := call.Do()
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	page := &MessagePage{
		Ids:                make([]string, 0, len(resp.Messages)),
		NextPageToken:      resp.NextPageToken,
		ResultSizeEstimate: resp.ResultSizeEstimate,
	}
	for _, m := range resp.Messages {
		if m != nil && m.Id != "" {
			page.Ids = append(page.Ids, m.Id)
		}
	}
	return page, nil
}

// GetMessage fetches one message in full format. It does not retry; the
// fetcher decides what to do with a rate limit.
func (c *Client) GetMessage(ctx context.Context, token, id string) (*gmail.Message, error) {
	svc, err := c.service(ctx, token)
	if err != nil {
		return nil, err
	}

	apiCallCount.Inc()
	msg, err := svc.Users.Messages.Get(c.cfg.UserId, id).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, c.classify(err)
	}
	return msg, nil
}

func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		classified := c.classify(err)
		if !isRetryable(classified) || attempt >= c.cfg.MaxRetries {
			return classified
		}

		delay := common.Backoff(c.cfg.RetryBaseDelay, c.cfg.RetryMaxDelay, attempt)
		if rl, ok := types.AsRateLimited(classified); ok && rl.RetryAfter > delay {
			delay = rl.RetryAfter
			if c.cfg.RetryMaxDelay > 0 && delay > c.cfg.RetryMaxDelay {
				delay = c.cfg.RetryMaxDelay
			}
		}

		log.Warn().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(classified).
			Msg("gmail request failed, retrying")

		if err := c.clock.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func isRetryable(err error) bool {
	if types.IsRateLimited(err) {
		return true
	}
	var transient *types.TransientError
	return errors.As(err, &transient) && isConnectionReset(transient.Err)
}

func isConnectionReset(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNRESET) || strings.Contains(err.Error(), "connection reset")
}

// classify maps Gmail API errors onto the pipeline taxonomy
func (c *Client) classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &types.TransientError{Service: serviceName, Err: err}
	}

	switch apiErr.Code {
	case http.StatusUnauthorized:
		return &types.AuthError{Service: serviceName, Message: apiErr.Message}
	case http.StatusForbidden:
		if isRateLimitReason(apiErr) {
			return c.rateLimited(apiErr)
		}
		return &types.PermissionError{Service: serviceName, Message: apiErr.Message}
	case http.StatusTooManyRequests:
		return c.rateLimited(apiErr)
	default:
		return &types.TransientError{Service: serviceName, StatusCode: apiErr.Code, Err: err}
	}
}

func (c *Client) rateLimited(apiErr *googleapi.Error) *types.RateLimitedError {
	rl := &types.RateLimitedError{
		Service:    serviceName,
		StatusCode: apiErr.Code,
		Message:    apiErr.Message,
	}
	if apiErr.Header != nil {
		rl.RetryAfter = common.ParseRetryAfter(apiErr.Header.Get("Retry-After"), c.clock.Now())
	}
	return rl
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		switch item.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}
