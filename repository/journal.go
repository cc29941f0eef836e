package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"storefront/logging"

	"go.uber.org/zap"
)

type undoKey struct{}

type undoLog struct {
	mu    sync.Mutex
	steps []func(context.Context) error
}

// RecordUndo registers a compensating action with the CompensatingTransactor
// running ctx. Outside of one it does nothing.
func RecordUndo(ctx context.Context, step func(ctx context.Context) error) {
	log, ok := ctx.Value(undoKey{}).(*undoLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.steps = append(log.steps, step)
	log.mu.Unlock()
}

// CompensatingTransactor is the Transactor for stores without multi-document
// transactions. Mutations performed inside fn record their inverse; when fn
// fails the inverses run newest first.
type CompensatingTransactor struct{}

func NewCompensatingTransactor() CompensatingTransactor {
	return CompensatingTransactor{}
}

func (CompensatingTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	log := &undoLog{}
	err := fn(context.WithValue(ctx, undoKey{}, log))
	if err == nil {
		return nil
	}

	// compensation must run even if the request was cancelled
	rollbackCtx := context.WithoutCancel(ctx)

	log.mu.Lock()
	steps := log.steps
	log.mu.Unlock()

	var undoErrs []error
	for i := len(steps) - 1; i >= 0; i-- {
		if uerr := steps[i](rollbackCtx); uerr != nil {
			undoErrs = append(undoErrs, uerr)
		}
	}
	if len(undoErrs) > 0 {
		rbErr := errors.Join(undoErrs...)
		logging.FromContext(ctx).Error("compensation_failed",
			zap.Int("steps", len(steps)),
			zap.Error(rbErr),
		)
		return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	return err
}
