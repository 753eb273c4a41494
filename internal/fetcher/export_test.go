package fetcher

import (
	"context"
	"time"
)

// SetSleep replaces the pre-request delay wait.
func (c *Client) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

// PreRequestDelay exposes the randomized delay for tests.
func (c *Client) PreRequestDelay() time.Duration {
	return c.preRequestDelay()
}
