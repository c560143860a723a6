package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/pkg/config"
	"github.com/wonny/b3quant/pkg/httputil"
	"github.com/wonny/b3quant/pkg/logger"
)

// Source is the tag stored on scores returned by the collaborator
const Source = "reasoning"

// ErrUnexpectedStatus is returned for non-2xx responses after retries
var ErrUnexpectedStatus = errors.New("unexpected status from reasoning service")

// Client talks to the external reasoning collaborator that returns a
// conviction score per (ticker, date)
// ⭐ SSOT: 추론 서비스 호출은 이 클라이언트에서만
type Client struct {
	http    *httputil.Client
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
	apiKey  string
	baseURL string
}

// ConvictionRequest is the request body of POST /v1/conviction
type ConvictionRequest struct {
	Ticker string `json:"ticker"`
	AsOf   string `json:"as_of"` // YYYY-MM-DD, 이 날짜 이후 정보 사용 금지
}

// ConvictionResponse is the collaborator's answer
type ConvictionResponse struct {
	Ticker     string   `json:"ticker"`
	AsOf       string   `json:"as_of"`
	Score      *float64 `json:"score"` // [-1, 1]
	Verdict    string   `json:"verdict,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
	Rationale  []string `json:"rationale,omitempty"`
}

// NewClient creates a new reasoning client
func NewClient(cfg config.ReasoningConfig, log *logger.Logger) *Client {
	log = log.Component("reasoning")
	httpClient := httputil.New(log, cfg.Timeout).
		WithRetry(cfg.MaxRetries, 200*time.Millisecond).
		WithRateLimit(cfg.RatePerSecond, 1)

	settings := gobreaker.Settings{
		Name:        "reasoning",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
		// 호출자 취소는 서비스 장애가 아님
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &Client{
		http:    httpClient,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  log,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Score implements contracts.ConvictionSource
func (c *Client) Score(ctx context.Context, ticker string, date time.Time) (contracts.ConvictionScore, error) {
	date = contracts.DateOnly(date)
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, ticker, date)
	})
	if err != nil {
		return contracts.ConvictionScore{}, fmt.Errorf("reasoning %s %s: %w", ticker, date.Format("2006-01-02"), err)
	}
	resp := out.(*ConvictionResponse)

	return contracts.ConvictionScore{
		Ticker:    ticker,
		Date:      date,
		Score:     *resp.Score,
		Rationale: strings.Join(resp.Rationale, "; "),
		Source:    Source,
	}, nil
}

func (c *Client) fetch(ctx context.Context, ticker string, date time.Time) (*ConvictionResponse, error) {
	headers := map[string]string{"Accept": "application/json"}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	httpResp, err := c.http.PostJSON(ctx, c.baseURL+"/v1/conviction", ConvictionRequest{
		Ticker: ticker,
		AsOf:   date.Format("2006-01-02"),
	}, headers)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, httpResp.StatusCode, strings.TrimSpace(string(body)))
	}

	var resp ConvictionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Score == nil {
		return nil, errors.New("response has no score")
	}
	return &resp, nil
}

// State exposes the breaker state for health reporting
func (c *Client) State() string {
	return c.breaker.State().String()
}

var _ contracts.ConvictionSource = (*Client)(nil)
