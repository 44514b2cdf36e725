package utils

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

var errNotDone = errors.New("not done yet")

// Retry calls fn every interval until it reports done, fails with an error
// wrapped by backoff.Permanent or ctx is done. Any other error returned by
// fn is considered transient and retried.
func Retry(
	ctx context.Context, interval time.Duration, fn func(ctx context.Context) (bool, error),
) error {
	operation := func() error {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if !done {
			return errNotDone
		}
		return nil
	}

	notify := func(err error, next time.Duration) {
		if !errors.Is(err, errNotDone) {
			log.WithError(err).Debugf("retrying in %s", next)
		}
	}

	policy := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}
