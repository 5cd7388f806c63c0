// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"followup-engine/internal/common/config"
	"followup-engine/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Client wraps the Zeebe gRPC client with connection retry and a health probe.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

// ClientConfig holds configuration for the Camunda/Zeebe client.
type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RetryConfig            *RetryConfig
}

// RetryConfig defines retry behavior for the initial connection.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

var DefaultRetryConfig = &RetryConfig{
	MaxRetries: 5,
	BaseDelay:  1 * time.Second,
	MaxDelay:   10 * time.Second,
}

// ConfigFrom builds a ClientConfig from the camunda config section.
func ConfigFrom(cfg config.CamundaConfig) *ClientConfig {
	timeout := config.GetDuration(cfg.RequestTimeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      timeout,
		RetryConfig:            DefaultRetryConfig,
	}
}

// NewClientWithConfig creates a Zeebe client and waits until the broker
// answers a topology request. Transient failures are retried with
// exponential backoff.
func NewClientWithConfig(ctx context.Context, cfg *ClientConfig, log logger.Logger) (*Client, error) {
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = DefaultRetryConfig
	}

	zeebeClient, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	c := &Client{client: zeebeClient, config: cfg}

	for attempt := 0; ; attempt++ {
		err = c.HealthCheck(ctx)
		if err == nil {
			return c, nil
		}
		if !isRetryableZeebeError(err) || attempt >= cfg.RetryConfig.MaxRetries {
			break
		}

		delay := backoff(cfg.RetryConfig, attempt)
		log.Warn("zeebe broker not reachable, retrying", map[string]interface{}{
			"gateway":     cfg.GatewayAddress,
			"attempt":     attempt + 1,
			"nextRetryIn": delay.String(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			zeebeClient.Close()
			return nil, fmt.Errorf("connecting to Zeebe broker at %s: %w", cfg.GatewayAddress, ctx.Err())
		}
	}

	zeebeClient.Close()
	return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", cfg.GatewayAddress, err)
}

func backoff(rc *RetryConfig, attempt int) time.Duration {
	delay := rc.BaseDelay * time.Duration(1<<attempt)
	if delay > rc.MaxDelay || delay <= 0 {
		delay = rc.MaxDelay
	}
	return delay
}

// GetClient returns the raw Zeebe client for job worker registration.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// isRetryableZeebeError checks if the error is transient.
func isRetryableZeebeError(err error) bool {
	msg := strings.ToLower(err.Error())
	retryablePhrases := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"deadline exceeded",
		"unavailable",
		"unreachable",
		"broken pipe",
	}
	for _, phrase := range retryablePhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// HealthCheck performs a topology request against the Zeebe broker.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe health check failed: %w", err)
	}
	return nil
}
