package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aws/smithy-go"
	"github.com/birdie-ai/golibs/slog"

	"github.com/jspreddy/dql/types"
)

// throttleCodes are the DynamoDB error codes retried with backoff
var throttleCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
}

func isThrottle(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return throttleCodes[apiErr.ErrorCode()]
}

// classify maps backend errors to the DQL error codes, the backend error
// stays reachable through errors.As
func classify(operation string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", operation, err)
	}

	switch apiErr.ErrorCode() {
	case "ConditionalCheckFailedException":
		return types.NewError(types.CodeConditionalCheckFailed, apiErr.ErrorMessage(), err)
	case "ResourceNotFoundException":
		return types.NewError(types.CodeSchema, apiErr.ErrorMessage(), err)
	case "ValidationException":
		return types.NewError(types.CodeValidation, apiErr.ErrorMessage(), err)
	}

	return fmt.Errorf("%s: %w", operation, err)
}

func defaultSleep(ctx context.Context, period time.Duration) {
	sleepCtx, cancel := context.WithTimeout(ctx, period)
	defer cancel()
	<-sleepCtx.Done()
}

func addJitter(v, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return v
	}

	return v + time.Duration(rand.Int64N(int64(jitter)))
}

// invoke calls fn until it succeeds, fails with an error that is not a
// throttle or the policy runs out of attempts
func invoke[T any](ctx context.Context, e *Engine, operation string, policy RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	sleepPeriod := policy.MinDelay

	for attempt := 1; ; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			e.metrics.request(operation, "ok")

			return out, nil
		}

		var zero T

		if !isThrottle(err) {
			e.metrics.request(operation, "error")

			return zero, classify(operation, err)
		}

		e.metrics.request(operation, "throttled")

		if attempt >= policy.Attempts {
			msg := fmt.Sprintf("%s still throttled after %d attempts", operation, attempt)

			return zero, types.NewError(types.CodeThrottled, msg, err)
		}

		e.metrics.retry(operation)
		slog.FromCtx(ctx).Debug("dql: retrying throttled request",
			"operation", operation, "attempt", attempt, "sleep_period", sleepPeriod.String())

		e.sleep(ctx, addJitter(sleepPeriod, policy.Jitter))

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		sleepPeriod = min(sleepPeriod*2, policy.MaxDelay)
	}
}
