package pubsub_test

import (
	"context"
	"encoding/json"
	"testing"

	gpubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/fixlab/internal/publisher/pubsub"
)

func fakeServer(t *testing.T) (*pstest.Server, []option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return srv, []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	srv, opts := fakeServer(t)

	client, err := gpubsub.NewClient(ctx, "project-id", opts...)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = client.CreateTopic(ctx, "audits")
	require.NoError(t, err)

	pub, err := pubsub.Open(ctx, "project-id", "audits", opts...)
	require.NoError(t, err)

	payload := map[string]any{"sessionId": "cufl_abc", "pagesCrawled": 3}
	id, err := pub.Publish(ctx, "audit.completed", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "audit.completed", msgs[0].Attributes[pubsub.EventAttribute])

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "cufl_abc", got["sessionId"])
}

func TestOpenMissingTopic(t *testing.T) {
	ctx := context.Background()
	_, opts := fakeServer(t)

	_, err := pubsub.Open(ctx, "project-id", "missing", opts...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestPublishUnconfigured(t *testing.T) {
	t.Parallel()
	_, err := pubsub.New(nil).Publish(context.Background(), "audit.completed", nil)
	assert.Error(t, err)
}
