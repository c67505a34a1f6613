// Package retry wraps the brokerage connection bootstrap with bounded,
// jittered backoff.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/jhalpert/covered_straddle/internal/broker"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

type Client struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

func NewClient(broker broker.Broker, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		broker: broker,
		logger: logger,
		config: cfg,
	}
}

// ConnectWithRetry connects to the brokerage, retrying transient failures
// with growing jittered backoff until the attempt budget or timeout runs out.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		select {
		case <-connectCtx.Done():
			return fmt.Errorf("connect timed out after %v: %w", c.config.Timeout, connectCtx.Err())
		default:
		}

		if ctx.Err() != nil {
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		}

		c.logger.Printf("Connect attempt %d/%d", attempt+1, c.config.MaxRetries+1)

		err := c.broker.Connect(connectCtx)
		if err == nil {
			c.logger.Printf("Connected on attempt %d", attempt+1)
			return nil
		}

		lastErr = err
		c.logger.Printf("Connect attempt %d failed: %v", attempt+1, err)

		if c.isTransientError(err) && attempt < c.config.MaxRetries {
			c.logger.Printf("Transient error detected, retrying in %v", backoff)
			select {
			case <-time.After(backoff):
				backoff = c.calculateNextBackoff(backoff)
			case <-connectCtx.Done():
				return fmt.Errorf("connect timed out during backoff: %w", connectCtx.Err())
			case <-ctx.Done():
				return fmt.Errorf("operation canceled during backoff: %w", ctx.Err())
			}
		} else {
			break
		}
	}

	return fmt.Errorf("failed to connect after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *Client) calculateNextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			log.Printf("Failed to generate jitter: %v", err)
		} else {
			jitter := time.Duration(jitterVal.Int64())
			backoff += jitter
		}
	}

	return backoff
}

func (c *Client) isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}
