package observability

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/zap"
)

// FlushTelemetry flushes buffered logs before process exit. Metrics are pull-based
// and need no flush. Sync errors for non-syncable stdout/stderr are ignored.
func FlushTelemetry(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	if err := logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		return fmt.Errorf("flush logs: %w", err)
	}
	return nil
}
