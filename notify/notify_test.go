package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/replay"
)

type message struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	messages []message
	err      error
}

func (p *fakePublisher) Publish(topic string, retained bool, payload []byte) error {
	p.messages = append(p.messages, message{topic, retained, payload})
	return p.err
}

var t0 = time.Date(2020, 7, 8, 9, 30, 0, 0, time.UTC)

func TestTopics(t *testing.T) {
	assert.Equal(t, "demoreel/abc/events", EventsTopic("demoreel", "abc"))
	assert.Equal(t, "demoreel/abc/status", StatusTopic("demoreel", "abc"))
}

func TestNotifyPublishesEvent(t *testing.T) {
	pub := &fakePublisher{}
	n := New(context.Background(), pub, "demoreel", "run-1")

	n.Notify(replay.Event{Seq: 4, Kind: replay.EventDispatch, Action: demoreel.KeyPress(demoreel.KeyF2), Delay: 80 * time.Millisecond, At: t0})

	require.Len(t, pub.messages, 1)
	msg := pub.messages[0]
	assert.Equal(t, "demoreel/run-1/events", msg.topic)
	assert.False(t, msg.retained)
	assert.JSONEq(t, `{"seq":4,"kind":"dispatch","detail":"F2","delay_ms":80,"at":"2020-07-08T09:30:00Z"}`, string(msg.payload))
}

func TestNotifyWaitEvent(t *testing.T) {
	pub := &fakePublisher{}
	n := New(context.Background(), pub, "demoreel", "run-1")

	n.Notify(replay.Event{Seq: 1, Kind: replay.EventWait, Template: demoreel.Template{Name: "create"}, State: "timed_out", Elapsed: 2 * time.Second, At: t0})

	var got eventMessage
	require.NoError(t, json.Unmarshal(pub.messages[0].payload, &got))
	assert.Equal(t, "timed_out", got.State)
	assert.Equal(t, 2000.0, got.ElapsedMS)
	assert.Equal(t, "create timed_out", got.Detail)
}

func TestNotifySwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	n := New(context.Background(), pub, "demoreel", "run-1")

	assert.NotPanics(t, func() {
		n.Notify(replay.Event{Seq: 1, Kind: replay.EventPause, At: t0})
	})
}

func TestStatusIsRetained(t *testing.T) {
	pub := &fakePublisher{}
	n := New(context.Background(), pub, "demoreel", "run-1")

	require.NoError(t, n.Status(StatusFailed, demoreel.ErrTimeout, t0))
	require.Len(t, pub.messages, 1)
	assert.Equal(t, "demoreel/run-1/status", pub.messages[0].topic)
	assert.True(t, pub.messages[0].retained)
	assert.JSONEq(t, `{"status":"failed","error":"wait timed out","timestamp":"2020-07-08T09:30:00Z"}`, string(pub.messages[0].payload))
}

func TestBuildClientOptions(t *testing.T) {
	o := buildClientOptions(Options{
		Broker:   "tcp://broker.local:1883",
		ClientID: "demoreel-rig",
		Username: "rig",
		Password: "secret",
		QoS:      1,
		Prefix:   "demoreel",
		RunID:    "run-1",
	})

	require.Len(t, o.Servers, 1)
	assert.Equal(t, "broker.local:1883", o.Servers[0].Host)
	assert.Equal(t, "demoreel-rig", o.ClientID)
	assert.Equal(t, "rig", o.Username)
	assert.True(t, o.WillEnabled)
	assert.Equal(t, "demoreel/run-1/status", o.WillTopic)
	assert.True(t, o.WillRetained)
	assert.Contains(t, string(o.WillPayload), `"status":"aborted"`)
}

func TestConnectUnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	_, err := Connect(context.Background(), Options{Broker: "tcp://127.0.0.1:1", ClientID: "demoreel-test"})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}
