package load

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/skudasov/shopload"
)

const awaitTargetRequestTimeout = 2 * time.Second

// AwaitTarget blocks until the target answers any http response or generator.await_target_sec elapses,
// 0 disables the check
func AwaitTarget(cfg *shopload.GeneratorConfig) error {
	if cfg.Generator.AwaitTargetSec == 0 {
		return nil
	}
	maxWait := time.Duration(cfg.Generator.AwaitTargetSec) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), maxWait)
	defer cancel()
	return awaitTarget(ctx, cfg.Generator.Target, maxWait)
}

func awaitTarget(ctx context.Context, target string, maxWait time.Duration) error {
	client := &http.Client{Timeout: awaitTargetRequestTimeout}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
	notify := func(err error, next time.Duration) {
		shopload.Log().Infof("target %s is not ready: %v, retry in %s", target, err, next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("target %s is not available: %w", target, err)
	}
	return nil
}
