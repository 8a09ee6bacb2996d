package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
)

const pingTimeout = 5 * time.Second

// Client talks to the Docker daemon that runs local preflight builds.
type Client struct {
	inner *client.Client
}

// NewClient connects to host, or to DOCKER_HOST and the other environment
// defaults when host is empty. No request is made until the first call.
func NewClient(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// Available pings the daemon within a short timeout and returns its API
// version. Spaces run Linux images, so any other daemon OS is rejected.
func (c *Client) Available(ctx context.Context) (string, error) {
	if c == nil || c.inner == nil {
		return "", fmt.Errorf("%w: client not initialized", ErrDaemonUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	ping, err := c.inner.Ping(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	if ping.APIVersion == "" {
		return "", fmt.Errorf("%w: empty API version", ErrDaemonUnavailable)
	}
	if ping.OSType != "" && ping.OSType != "linux" {
		return "", fmt.Errorf("%w: %s daemon cannot build linux images", ErrDaemonUnavailable, ping.OSType)
	}
	return ping.APIVersion, nil
}

// Close releases the daemon connection.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
