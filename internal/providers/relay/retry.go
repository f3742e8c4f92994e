package relay

import (
	"context"
	"time"

	clierr "github.com/ggonzalez94/dustsweep/internal/errors"
	"github.com/ggonzalez94/dustsweep/internal/logger"
	"github.com/ggonzalez94/dustsweep/internal/model"
	"golang.org/x/sync/errgroup"
)

const (
	maxQuoteAttempts = 3
	retryBaseDelay   = 500 * time.Millisecond
	keyedStagger     = 150 * time.Millisecond
	keyedMaxStagger  = 500 * time.Millisecond
	anonymousDelay   = 1500 * time.Millisecond
	keyedConcurrency = 4
	alternativeKeyed = 150 * time.Millisecond
	alternativeNoKey = 1500 * time.Millisecond
)

// GetQuoteWithRetry retries rate limited requests with exponential backoff
// (500ms, 1s, 2s). Any other failure yields nil so callers move on to the
// next token.
func (c *Client) GetQuoteWithRetry(ctx context.Context, req model.QuoteRequest) *model.QuoteResponse {
	var lastErr error
	for attempt := 0; attempt < maxQuoteAttempts; attempt++ {
		quote, err := c.fetchQuote(ctx, req)
		if err == nil {
			return quote
		}
		lastErr = err
		if !clierr.Is(err, clierr.CodeRateLimited) {
			break
		}
		if attempt == maxQuoteAttempts-1 {
			break
		}
		delay := retryBaseDelay * time.Duration(1<<uint(attempt))
		logger.Warnf("[Relay] rate limited, retrying in %s", delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil
		}
	}
	if lastErr != nil {
		logger.Errorf("[Relay] quote fetch failed after retries: %v", lastErr)
	}
	return nil
}

// GetMultipleQuotes resolves quotes in request order. Keyed clients fan out
// with a small stagger; anonymous clients go one at a time.
func (c *Client) GetMultipleQuotes(ctx context.Context, reqs []model.QuoteRequest) []*model.QuoteResponse {
	out := make([]*model.QuoteResponse, len(reqs))
	if len(reqs) == 0 {
		return out
	}

	if !c.HasAPIKey() {
		for i, req := range reqs {
			if i > 0 {
				if err := c.sleep(ctx, anonymousDelay); err != nil {
					return out
				}
			}
			out[i] = c.GetQuoteWithRetry(ctx, req)
		}
		return out
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(keyedConcurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			stagger := keyedStagger * time.Duration(i)
			if stagger > keyedMaxStagger {
				stagger = keyedMaxStagger
			}
			if err := c.sleep(gctx, stagger); err != nil {
				return nil
			}
			out[i] = c.GetQuoteWithRetry(gctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
