//go:build integration

package engine

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jspreddy/dql/types"
)

// localEndpoint returns LOCAL_DYNAMODB_ENDPOINT or starts dynamodb-local
func localEndpoint(t *testing.T) string {
	t.Helper()

	if endpoint := os.Getenv("LOCAL_DYNAMODB_ENDPOINT"); endpoint != "" {
		return endpoint
	}

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:latest",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory"},
			WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.PortEndpoint(ctx, "8000/tcp", "http")
	require.NoError(t, err)

	return endpoint
}

func setupLocalEngine(t *testing.T) *Engine {
	t.Helper()

	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("localhost"),
		config.WithCredentialsProvider(credentials.StaticCredentialsProvider{
			Value: aws.Credentials{
				AccessKeyID: "dummy", SecretAccessKey: "dummy", SessionToken: "dummy",
				Source: "Hard-coded credentials; values are irrelevant for local DynamoDB",
			},
		}),
		config.WithRetryer(func() aws.Retryer {
			return aws.NopRetryer{}
		}),
	)
	require.NoError(t, err)

	endpoint := localEndpoint(t)
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	e, err := New(client, WithConfig(testConfig()))
	require.NoError(t, err)

	return e
}

func TestDynamoDBLocal(t *testing.T) {
	c := require.New(t)
	ctx := context.Background()
	e := setupLocalEngine(t)

	mustExecute(t, e, "DROP TABLE IF EXISTS events;")
	seedEvents(t, e, 30)

	res := mustExecute(t, e, "SELECT count(*) FROM events WHERE stream = 'a' AND seq > 10;")
	c.EqualValues(20, res.Count)

	rows := records(t, mustExecute(t, e, "SELECT seq, n FROM events WHERE stream = 'a' DESC LIMIT 3;"))
	c.Len(rows, 3)
	c.Equal("30", rows[0]["seq"].Inspect())

	res = mustExecute(t, e, "COUNT * FROM events WHERE stream = 'a' AND kind = 'even';")
	c.EqualValues(15, res.Count)

	res = mustExecute(t, e, "UPDATE events SET n = n + 1 WHERE stream = 'a' AND seq = 1 RETURNS ALL NEW;")
	c.Equal("11", records(t, res)[0]["n"].Inspect())

	_, err := e.Execute(ctx, "DELETE FROM events WHERE stream = 'a' AND seq = 1 AND n = 0;")
	c.ErrorIs(err, types.ErrConditionalCheckFailed)

	dump := mustExecute(t, e, "DUMP SCHEMA events;").Schema
	c.Contains(dump, "CREATE TABLE events (stream STRING HASH KEY, seq NUMBER RANGE KEY, kind STRING ALL INDEX('by-kind'));")

	mustExecute(t, e, "DROP TABLE events;")

	_, err = e.Describe(ctx, "events")
	c.ErrorIs(err, types.ErrSchema)
}
