package docker

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/network"

	"github.com/mmr-tortoise/flotilla/internal/logger"
)

// EnsureNetwork creates the bridge network name unless it exists.
func (c *Client) EnsureNetwork(ctx context.Context, name string, labels map[string]string) error {
	_, err := c.inner.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect network %s: %w", name, err)
	}

	_, err = c.inner.NetworkCreate(ctx, name, network.CreateOptions{
		Driver: "bridge",
		Labels: labels,
	})
	// Another run may have created it concurrently.
	if err != nil && !errdefs.IsConflict(err) {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	c.log.Info("network created", logger.F("network", name))
	return nil
}

// RemoveNetwork removes the named network. A missing network is ignored.
func (c *Client) RemoveNetwork(ctx context.Context, name string) error {
	err := c.inner.NetworkRemove(ctx, name)
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove network %s: %w", name, err)
	}
	return nil
}
