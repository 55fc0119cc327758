package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectTestServer(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	natsServer := test.RunServer(&opts)

	nc, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		natsServer.Shutdown()
	})
	return nc
}

func TestNatsPublisher_Publish(t *testing.T) {
	nc := connectTestServer(t)
	pub := NewNatsPublisher(nc, "audiobook.jobs")

	sub, err := nc.SubscribeSync("audiobook.jobs.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	ev := JobEvent{
		JobID:  uuid.New(),
		Status: "completed",
		At:     time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(context.Background(), ev))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "audiobook.jobs.completed", msg.Subject)

	var got JobEvent
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, ev, got)
}

func TestNatsPublisher_ClosedConnection(t *testing.T) {
	nc := connectTestServer(t)
	pub := NewNatsPublisher(nc, "audiobook.jobs")
	nc.Close()

	err := pub.Publish(context.Background(), JobEvent{JobID: uuid.New(), Status: "failed"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), JobEvent{}))
}
