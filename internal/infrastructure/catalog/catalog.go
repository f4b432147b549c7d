package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"echoframe/internal/core/domain"
	"echoframe/internal/core/ports"
	"echoframe/pkg/cache"
	"echoframe/pkg/circuitbreaker"
	"echoframe/pkg/retry"

	"go.uber.org/zap"
)

type Config struct {
	BaseURL          string
	Timeout          time.Duration
	CacheTTL         time.Duration
	FailureThreshold int
	OpenTimeout      time.Duration
}

var errClientStatus = errors.New("catalog rejected the request")

// HTTPCatalog validates video ids against GET {base}/videos/{id}. Lookups
// are cached, retried and guarded by a circuit breaker; an open breaker
// surfaces as domain.ErrCatalogUnavailable.
type HTTPCatalog struct {
	baseURL string
	client  *http.Client
	cache   *cache.Cache[string, bool]
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
	logger  *zap.SugaredLogger
}

// New returns the catalog client, or AllowAll when no base URL is set.
func New(cfg Config, logger *zap.SugaredLogger) ports.VideoCatalog {
	if cfg.BaseURL == "" {
		logger.Info("video catalog not configured, accepting every video id")
		return AllowAll{}
	}
	return NewHTTPCatalog(cfg, &http.Client{Timeout: cfg.Timeout}, logger)
}

func NewHTTPCatalog(cfg Config, client *http.Client, logger *zap.SugaredLogger) *HTTPCatalog {
	cbCfg := circuitbreaker.DefaultConfig()
	if cfg.FailureThreshold > 0 {
		cbCfg.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.OpenTimeout > 0 {
		cbCfg.Timeout = cfg.OpenTimeout
	}
	cbCfg.IsFailure = func(err error) bool {
		return !errors.Is(err, errClientStatus)
	}

	rc := retry.DefaultConfig()
	rc.Retryable = func(err error) bool {
		return !errors.Is(err, errClientStatus)
	}

	c := &HTTPCatalog{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		cache:   cache.New[string, bool](cfg.CacheTTL),
		breaker: circuitbreaker.New(cbCfg),
		retry:   rc,
		logger:  logger,
	}
	c.breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("catalog circuit breaker changed state", "from", from.String(), "to", to.String())
	})
	return c
}

func (c *HTTPCatalog) ValidateVideo(ctx context.Context, videoID string) error {
	exists, err := c.cache.GetOrLoad(ctx, videoID, func(ctx context.Context) (bool, error) {
		return c.lookup(ctx, videoID)
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return domain.ErrCatalogUnavailable
		}
		if errors.Is(err, errClientStatus) {
			return domain.InvalidInput(err)
		}
		return domain.ErrCatalogUnavailable.WithCause(err)
	}
	if !exists {
		return domain.ErrVideoNotFound
	}
	return nil
}

func (c *HTTPCatalog) lookup(ctx context.Context, videoID string) (bool, error) {
	return circuitbreaker.Call(ctx, c.breaker, func(ctx context.Context) (bool, error) {
		return retry.Do(ctx, c.retry, func() (bool, error) {
			return c.fetch(ctx, videoID)
		})
	})
}

func (c *HTTPCatalog) fetch(ctx context.Context, videoID string) (bool, error) {
	endpoint := c.baseURL + "/videos/" + url.PathEscape(videoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, retry.Permanent(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return false, fmt.Errorf("catalog returned %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("%w: status %d", errClientStatus, resp.StatusCode)
	}
}

func (c *HTTPCatalog) Close() {
	c.cache.Stop()
}

// AllowAll accepts every video id.
type AllowAll struct{}

func (AllowAll) ValidateVideo(context.Context, string) error { return nil }
