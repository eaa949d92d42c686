package hivemq

import (
	"context"
	"io"
	"regexp"
	"time"

	tcexec "github.com/testcontainers/testcontainers-go/exec"

	"github.com/hivemq/hivemq-testcontainer-go/internal/errors"
	"github.com/hivemq/hivemq-testcontainer-go/internal/logger"
)

// defaultToggleTimeout applies when ctx carries no deadline.
const defaultToggleTimeout = 60 * time.Second

const (
	toggleDisable = "disable"
	toggleEnable  = "enable"
)

// DisableExtension stops a running extension by placing its DISABLED marker
// and blocks until HiveMQ logs that the extension stopped. This is a HiveMQ
// Enterprise feature; Community Edition images time out.
func (c *Container) DisableExtension(ctx context.Context, name, id string) error {
	return c.toggleExtension(ctx, toggleDisable, name, id)
}

// EnableExtension starts a disabled extension by removing its DISABLED marker
// and blocks until HiveMQ logs that the extension started.
func (c *Container) EnableExtension(ctx context.Context, name, id string) error {
	return c.toggleExtension(ctx, toggleEnable, name, id)
}

// DisableExtensionOf is DisableExtension for a packaged extension.
func (c *Container) DisableExtensionOf(ctx context.Context, ext *Extension) error {
	return c.DisableExtension(ctx, ext.Name, ext.ID)
}

// EnableExtensionOf is EnableExtension for a packaged extension.
func (c *Container) EnableExtensionOf(ctx context.Context, ext *Extension) error {
	return c.EnableExtension(ctx, ext.Name, ext.ID)
}

// toggleSpec returns the log line awaited and the command run for action.
func toggleSpec(action, name, id string) (*regexp.Regexp, []string) {
	if action == toggleDisable {
		return extensionStoppedPattern(name), []string{"touch", disabledMarkerPath(id)}
	}
	return extensionStartedPattern(name), []string{"rm", "-rf", disabledMarkerPath(id)}
}

func (c *Container) toggleExtension(
	ctx context.Context,
	action, name, id string,
) (err error) {
	defer func() { c.metrics.observeToggle(action, err) }()

	ctr, err := c.running()
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultToggleTimeout)
		defer cancel()
	}

	pattern, cmd := toggleSpec(action, name, id)

	// The latch must exist before the command runs or the log line can be missed.
	done, unregister := c.logs.await(pattern)
	defer unregister()

	exitCode, output, err := ctr.Exec(ctx, cmd, tcexec.Multiplexed())
	if err != nil {
		return errors.Newf("failed to %s extension %s: %w", action, id, err).
			Component(component).
			Category(errors.CategoryDocker).
			Context("extension_id", id).
			Build()
	}
	if exitCode != 0 {
		out, _ := io.ReadAll(output)
		return errors.Newf("%s extension %s: %q exited with code %d: %s", action, id, cmd, exitCode, out).
			Component(component).
			Category(errors.CategoryDocker).
			Context("extension_id", id).
			Build()
	}
	c.log.Info("extension state change requested",
		logger.String("action", action),
		logger.String("extension", id),
		logger.String("marker", cmd[len(cmd)-1]))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.log.Warn("extension state change timed out; Community Edition images do not support enabling or disabling extensions",
			logger.String("action", action),
			logger.String("extension", name))
		return errors.Newf("%w: %s %q: %w", ErrExtensionToggleTimeout, action, name, ctx.Err()).
			Component(component).
			Category(errors.CategoryTimeout).
			Context("extension_id", id).
			Build()
	}
}
