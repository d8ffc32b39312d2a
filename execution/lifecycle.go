package execution

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/pyhost/session"
	"github.com/BaSui01/pyhost/types"
)

const shutdownConcurrency = 8

// StopExecution cancels every in-flight execution and returns how many it
// signalled. The stop is cooperative and does not outlive the call:
// executions started afterwards run normally.
func (c *Coordinator) StopExecution() int {
	n := c.inflight.cancel(func(InflightExecution) bool { return true }, ErrExecutionStopped)
	c.logger.Info("stop requested for all executions", zap.Int("signalled", n))
	return n
}

// StopSession cancels the in-flight executions of one session only.
func (c *Coordinator) StopSession(sessionID string) int {
	n := c.inflight.cancel(func(e InflightExecution) bool { return e.SessionID == sessionID }, ErrExecutionStopped)
	c.logger.Info("stop requested for session",
		zap.String("session_id", sessionID),
		zap.Int("signalled", n))
	return n
}

// CleanupSession stops the session's execution, then drops its namespace,
// disposes its lock and unregisters it. A later call with the same ID gets
// a fresh namespace.
//
// It waits at most SessionLockWait+CancelGrace for the session lock. A
// stopped execution gives the lock up after CancelGrace even when its unit
// ignores the stop, so that bound is normally enough. When another caller
// holds the lock past it, CleanupSession returns a retryable SESSION_BUSY
// error and leaves the session registered; Shutdown reports that error.
func (c *Coordinator) CleanupSession(ctx context.Context, sessionID string) error {
	_, registered := c.registry.Get(sessionID)
	hasScope := c.provider.GetScope(sessionID) != nil
	if !registered && !hasScope {
		return types.NewError(types.ErrSessionNotFound, "session not found").
			WithSession(sessionID).
			WithHTTPStatus(types.HTTPStatusFor(types.ErrSessionNotFound))
	}

	c.StopSession(sessionID)

	limits := c.Limits()
	release, err := c.locks.Acquire(ctx, sessionID, limits.SessionLockWait+limits.CancelGrace)
	if err != nil {
		if errors.Is(err, session.ErrSessionBusy) {
			return types.NewSessionBusyError(sessionID)
		}
		return err
	}
	c.provider.DropScope(sessionID)
	c.locks.Dispose(sessionID)
	release()

	c.registry.Remove(ctx, sessionID)
	c.recorder.SetSessions(c.registry.Len())
	c.logger.Info("session cleaned up", zap.String("session_id", sessionID))
	return nil
}

// Shutdown refuses new executions, stops running ones and cleans up every
// registered session. The private pool, if any, is closed last.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.logger.Info("coordinator shutting down", zap.Int("inflight", c.inflight.len()))
	c.StopExecution()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(shutdownConcurrency)
	for _, s := range c.registry.List() {
		id := s.ID
		g.Go(func() error {
			if err := c.CleanupSession(gctx, id); err != nil && !types.IsErrorCode(err, types.ErrSessionNotFound) {
				return fmt.Errorf("cleanup session %s: %w", id, err)
			}
			return nil
		})
	}
	err := g.Wait()

	if c.ownsPool {
		c.pool.Close()
	}
	if err != nil {
		c.logger.Error("coordinator shutdown incomplete", zap.Error(err))
		return err
	}
	c.logger.Info("coordinator shut down")
	return nil
}
