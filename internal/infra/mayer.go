package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"maverage/internal/domain"
	"maverage/internal/execution"

	"github.com/shopspring/decimal"
)

// DefaultMayerAttempts bounds the Mayer multiple fetch.
const DefaultMayerAttempts = 5

// mayerResponse represents the mayermultiple.info API response
type mayerResponse struct {
	Data struct {
		CurrentMayerMultiple float64 `json:"current_mayer_multiple"`
		AverageMayerMultiple float64 `json:"average_mayer_multiple"`
		Price                float64 `json:"btc_price"`
		MovingAverage200     float64 `json:"two_hundred_day_moving_average"`
	} `json:"data"`
}

// MayerClient fetches the current Mayer multiple for the daily report
type MayerClient struct {
	apiURL     string
	attempts   int
	httpClient *http.Client
	jitter     execution.Jitter
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// NewMayerClient creates a client for apiURL, falling back to the public endpoint.
func NewMayerClient(apiURL string) *MayerClient {
	if apiURL == "" {
		apiURL = DefaultMayerURL
	}
	return &MayerClient{
		apiURL:   apiURL,
		attempts: DefaultMayerAttempts,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		jitter: execution.CallJitter,
		sleep:  execution.SleepContext,
		logger: slog.Default().With("module", "mayer"),
	}
}

// Fetch returns nil when the multiple could not be read within the attempt budget.
func (c *MayerClient) Fetch(ctx context.Context) *domain.MayerMultiple {
	var lastErr error
	for i := 0; i < c.attempts; i++ {
		if i > 0 {
			if err := c.sleep(ctx, c.jitter.Draw()); err != nil {
				return nil
			}
		}

		m, err := c.doFetch(ctx)
		if err == nil {
			return m
		}
		lastErr = err
		c.logger.Warn("Mayer multiple fetch attempt failed", slog.Int("attempt", i+1), slog.Any("error", err))
	}
	c.logger.Warn("Failed to fetch Mayer multiple, giving up",
		slog.Int("attempts", c.attempts),
		slog.Any("error", lastErr),
	)
	return nil
}

func (c *MayerClient) doFetch(ctx context.Context) (*domain.MayerMultiple, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty response from Mayer API")
	}

	var data mayerResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, err
	}

	return &domain.MayerMultiple{
		Current: decimal.NewFromFloat(data.Data.CurrentMayerMultiple),
		Average: decimal.NewFromFloat(data.Data.AverageMayerMultiple),
	}, nil
}
