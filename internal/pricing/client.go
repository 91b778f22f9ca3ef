package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// defaultRetryDelay はリトライ間隔の初期値。試行ごとに2倍になる。
	defaultRetryDelay = 200 * time.Millisecond
	// maxResponseBytes はレスポンスボディの読み取り上限。
	maxResponseBytes = 1 << 20
)

// ErrRateNotFound はレスポンスに対象通貨のレートが含まれない場合のエラー。
var ErrRateNotFound = errors.New("rate not found in response")

// errRetryable はリトライで回復しうる失敗を表す。
type errRetryable struct {
	err error
}

func (e *errRetryable) Error() string { return e.err.Error() }
func (e *errRetryable) Unwrap() error { return e.err }

// latestRatesResponse は為替レートAPIのレスポンス。
type latestRatesResponse struct {
	Result   string                     `json:"result"`
	BaseCode string                     `json:"base_code"`
	Rates    map[string]decimal.Decimal `json:"rates"`
}

// Client は為替レートAPIのクライアント。
// GET {endpoint}/{FROM} で基準通貨に対する全通貨のレートを取得する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	maxRetries int
	retryDelay time.Duration // テスト用に短縮可能
}

// NewClient はClientの新しいインスタンスを生成する。
// タイムアウトはhttpClientに設定されたものを使用する。
func NewClient(httpClient *http.Client, endpoint string, maxRetries int, logger *slog.Logger) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		maxRetries: maxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Rate は1単位のfrom通貨がto通貨でいくらかを返す。
// タイムアウト、429、5xxは最大maxRetries回までリトライする。
func (c *Client) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		rate, err := c.fetch(ctx, from, to)
		if err == nil {
			return rate, nil
		}
		lastErr = err

		var retryable *errRetryable
		if !errors.As(err, &retryable) {
			return decimal.Zero, err
		}

		c.logger.Warn("exchange rate request failed",
			slog.String("from", from),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return decimal.Zero, fmt.Errorf("exchange rate request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// fetch は為替レートAPIを1回呼び出す。
func (c *Client) fetch(ctx context.Context, from, to string) (decimal.Decimal, error) {
	reqURL := c.endpoint + "/" + strings.ToUpper(from)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build exchange rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Coursemart/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return decimal.Zero, ctx.Err()
		}
		return decimal.Zero, &errRetryable{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return decimal.Zero, &errRetryable{err: fmt.Errorf("exchange rate API returned status %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("exchange rate API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return decimal.Zero, &errRetryable{err: fmt.Errorf("failed to read exchange rate response: %w", err)}
	}

	var parsed latestRatesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse exchange rate response: %w", err)
	}
	if parsed.Result != "" && parsed.Result != "success" {
		return decimal.Zero, fmt.Errorf("exchange rate API returned result %q", parsed.Result)
	}

	rate, ok := parsed.Rates[strings.ToUpper(to)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s -> %s: %w", from, to, ErrRateNotFound)
	}
	return rate, nil
}

// compile-time interface check
var _ RateSource = (*Client)(nil)
