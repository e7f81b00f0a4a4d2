package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type notice struct {
	SiteID string `json:"siteId"`
	Status string `json:"status"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"status": n.Status}
}

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv, client := newTestClient(t)
	_, err := client.CreateTopic(ctx, "sites")
	require.NoError(t, err)

	pub, err := New(client, "sites", nil)
	require.NoError(t, err)

	id, err := pub.Publish(ctx, "", notice{SiteID: "s1", Status: "ok"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "s1", got.SiteID)
	require.Equal(t, "ok", msgs[0].Attributes["status"])
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	_, client := newTestClient(t)

	_, err := New(nil, "", nil)
	require.Error(t, err)

	pub, err := New(client, "", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.Publish(ctx, "", notice{})
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(ctx, "sites", func() {})
	require.ErrorContains(t, err, "marshal payload")

	_, err = pub.Publish(ctx, "missing-topic", notice{SiteID: "s"})
	require.Error(t, err)
}
