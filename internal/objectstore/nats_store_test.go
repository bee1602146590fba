// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/voice-clone-service/internal/objectstore"
)

// StartTestServer starts an in-memory NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetStream, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	store, err := objectstore.New(context.Background(), jetStream, "test-uploads")
	require.NoError(t, err)

	ctx := context.Background()
	key := "reference-sample.wav"
	uploadData := []byte("reference audio payload")

	err = store.Upload(ctx, key, uploadData)
	require.NoError(t, err)

	downloadData, err := store.Download(ctx, key)
	require.NoError(t, err)

	require.Equal(t, uploadData, downloadData)
}

func TestNatsObjectStore_BindToExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetStream, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	first, err := objectstore.New(context.Background(), jetStream, "shared-bucket")
	require.NoError(t, err)

	err = first.Upload(context.Background(), "key", []byte("payload"))
	require.NoError(t, err)

	// Creating the store again binds to the existing bucket.
	second, err := objectstore.New(context.Background(), jetStream, "shared-bucket")
	require.NoError(t, err)

	data, err := second.Download(context.Background(), "key")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestNatsObjectStore_DownloadMissingKey(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetStream, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	store, err := objectstore.New(context.Background(), jetStream, "empty-bucket")
	require.NoError(t, err)

	_, err = store.Download(context.Background(), "does-not-exist")
	require.Error(t, err)
}
