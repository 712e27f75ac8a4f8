package engine

import "context"

// explainCommand plans the inner statement without running it. Schema
// lookups are the only backend calls.
type explainCommand struct {
	inner command
}

func (c *explainCommand) explain(ctx context.Context, e *Engine) ([]string, error) {
	return c.inner.explain(ctx, e)
}

func (c *explainCommand) run(ctx context.Context, e *Engine) (*Result, error) {
	plan, err := c.inner.explain(ctx, e)
	if err != nil {
		return nil, err
	}

	return &Result{Plan: plan}, nil
}
