package ingest

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// cleanupScope deletes a scope's vectors once no document references it.
// After CleanupAttempts failed deletions the scope is recorded as an orphan
// for SweepOrphans.
func (c *Coordinator) cleanupScope(ctx context.Context, scope string) {
	if scope == "" {
		return
	}
	ctx = context.WithoutCancel(ctx)

	refs, err := c.store.CountScopeRefs(ctx, scope)
	if err != nil {
		c.logger.Warn("failed to count scope references", "scope", scope, "error", err)
		return
	}
	if refs > 0 {
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.CleanupInterval
	b.MaxElapsedTime = 0
	err = backoff.Retry(func() error {
		return c.vectors.DeleteScope(ctx, scope)
	}, backoff.WithMaxRetries(b, uint64(c.cfg.CleanupAttempts-1)))
	if err == nil {
		return
	}

	c.logger.Error("vector cleanup failed, scope recorded as orphan", "scope", scope, "error", err)
	if err := c.store.AddOrphanScope(ctx, scope); err != nil {
		c.logger.Error("failed to record orphan scope", "scope", scope, "error", err)
	}
}

// SweepOrphans retries deletion of orphaned scopes and returns how many were
// removed. Scopes that became referenced again are dropped from the list
// without deleting their vectors.
func (c *Coordinator) SweepOrphans(ctx context.Context) (int, error) {
	scopes, err := c.store.ListOrphanScopes(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, scope := range scopes {
		refs, err := c.store.CountScopeRefs(ctx, scope)
		if err != nil {
			return removed, err
		}
		if refs == 0 {
			if err := c.vectors.DeleteScope(ctx, scope); err != nil {
				c.logger.Warn("orphan scope still not deletable", "scope", scope, "error", err)
				continue
			}
			removed++
		}
		if err := c.store.RemoveOrphanScope(ctx, scope); err != nil {
			return removed, err
		}
	}
	if removed > 0 {
		c.logger.Info("swept orphan scopes", "removed", removed)
	}
	return removed, nil
}
