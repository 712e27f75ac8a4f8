package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jspreddy/dql/fakedynamo"
	"github.com/jspreddy/dql/types"
)

func TestThrottleExhaustion(t *testing.T) {
	c := require.New(t)

	var sleeps []time.Duration

	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithSleep(func(_ context.Context, d time.Duration) { sleeps = append(sleeps, d) }))
	seedEvents(t, e, 3)

	client.ResetCalls()
	client.ThrottleNext(100)

	res := mustExecute(t, e, "SCAN * FROM events;")
	_, err := res.Rows.All()
	c.ErrorIs(err, types.ErrThrottled)
	c.Equal(e.cfg.ReadRetry.Attempts, client.Calls("Scan"))
	c.Len(sleeps, e.cfg.ReadRetry.Attempts-1)

	for i := 1; i < len(sleeps); i++ {
		c.LessOrEqual(sleeps[i], e.cfg.ReadRetry.MaxDelay+e.cfg.ReadRetry.Jitter)
	}

	var throttled *ddbtypes.ProvisionedThroughputExceededException
	c.True(errors.As(err, &throttled))
}

func TestThrottleRecovers(t *testing.T) {
	c := require.New(t)
	client := fakedynamo.NewClient()
	e := setupEngine(t, client)
	seedEvents(t, e, 3)

	client.ResetCalls()
	client.ThrottleNext(2)

	res := mustExecute(t, e, "SELECT count(*) FROM events WHERE stream = 'a';")
	c.EqualValues(3, res.Count)
	c.Equal(3, client.Calls("Query"))
}

func TestWriteProfiles(t *testing.T) {
	c := require.New(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.WriteRetry.Attempts = 2
	cfg.Profiles = map[string]RetryPolicy{"patient": {Attempts: 8}}

	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithConfig(cfg))
	seedEvents(t, e, 1)

	_, err := e.Execute(ctx, "UPDATE events SET n = 1 WHERE stream = 'a' AND seq = 1 USING hasty;")
	c.ErrorIs(err, types.ErrValidation)

	client.ThrottleNext(5)

	_, err = e.Execute(ctx, "UPDATE events SET n = 1 WHERE stream = 'a' AND seq = 1;")
	c.ErrorIs(err, types.ErrThrottled)

	client.ThrottleNext(5)

	res := mustExecute(t, e, "UPDATE events SET n = 2 WHERE stream = 'a' AND seq = 1 USING patient RETURNS UPDATED NEW;")
	rows := records(t, res)
	c.Len(rows, 1)
	c.Equal("2", rows[0]["n"].Inspect())

	client.ThrottleNext(5)

	res = mustExecute(t, e, "DELETE FROM events WHERE stream = 'a' AND seq = 1 USING patient;")
	c.EqualValues(1, res.Count)
}

func TestUnprocessedItemsExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.WriteRetry.Attempts = 2

	client := fakedynamo.NewClient(fakedynamo.WithBatchCapacity(5))
	e := setupEngine(t, client, WithConfig(cfg))
	mustExecute(t, e, eventsTable)

	_, err := e.Execute(context.Background(), "INSERT INTO events (stream, seq) VALUES "+
		"('a', 1), ('a', 2), ('a', 3), ('a', 4), ('a', 5), ('a', 6), ('a', 7), ('a', 8), ('a', 9), ('a', 10), ('a', 11);")
	require.ErrorIs(t, err, types.ErrThrottled)
	assert.Equal(t, 2, client.Calls("BatchWriteItem"))
}

func TestBackendErrorsPassThrough(t *testing.T) {
	client := fakedynamo.NewClient()
	e := setupEngine(t, client)
	seedEvents(t, e, 1)

	client.EmulateFailure(fakedynamo.FailureConditionInternalServerError)
	defer client.EmulateFailure(fakedynamo.FailureConditionNone)

	_, err := e.Execute(context.Background(), "SELECT count(*) FROM events WHERE stream = 'a';")
	require.Error(t, err)

	var internal *ddbtypes.InternalServerError
	assert.True(t, errors.As(err, &internal))
	assert.Equal(t, 1, client.Calls("Query"))
}

func TestMetrics(t *testing.T) {
	c := require.New(t)
	reg := prometheus.NewRegistry()

	client := fakedynamo.NewClient()
	e := setupEngine(t, client, WithRegisterer(reg))
	seedEvents(t, e, 4)

	client.ThrottleNext(1)
	mustExecute(t, e, "SELECT count(*) FROM events WHERE stream = 'a';")

	m := e.metrics
	c.InDelta(1, testutil.ToFloat64(m.requests.WithLabelValues("Query", "throttled")), 0)
	c.InDelta(1, testutil.ToFloat64(m.requests.WithLabelValues("Query", "ok")), 0)
	c.InDelta(1, testutil.ToFloat64(m.retries.WithLabelValues("Query")), 0)
	c.InDelta(1, testutil.ToFloat64(m.requests.WithLabelValues("BatchWriteItem", "ok")), 0)
	c.Positive(testutil.ToFloat64(m.capacity.WithLabelValues("events")))

	// a second engine on the same registry shares the collectors
	other := setupEngine(t, client, WithRegisterer(reg))
	mustExecute(t, other, "SELECT count(*) FROM events WHERE stream = 'a';")
	c.InDelta(2, testutil.ToFloat64(m.requests.WithLabelValues("Query", "ok")), 0)
}

func TestAddJitter(t *testing.T) {
	assert.Equal(t, time.Second, addJitter(time.Second, 0))

	for range 100 {
		v := addJitter(time.Second, 10*time.Millisecond)
		assert.GreaterOrEqual(t, v, time.Second)
		assert.Less(t, v, time.Second+10*time.Millisecond)
	}
}
