// Package notify streams replay progress to an MQTT broker so a recording
// rig can be watched from elsewhere.
//
// Topics:
//
//	<prefix>/<run-id>/events  one JSON message per replay event
//	<prefix>/<run-id>/status  retained run status
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/replay"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

func EventsTopic(prefix, runID string) string {
	return prefix + "/" + runID + "/events"
}

func StatusTopic(prefix, runID string) string {
	return prefix + "/" + runID + "/status"
}

type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

type eventMessage struct {
	Seq       int       `json:"seq"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	DelayMS   float64   `json:"delay_ms,omitempty"`
	ElapsedMS float64   `json:"elapsed_ms,omitempty"`
	State     string    `json:"state,omitempty"`
	At        time.Time `json:"at"`
}

type statusMessage struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(status string, err error, at time.Time) []byte {
	msg := statusMessage{Status: status, Timestamp: at.UTC()}
	if err != nil {
		msg.Error = err.Error()
	}
	data, _ := json.Marshal(msg)
	return data
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Notifier publishes the events of one run. It is a replay.Listener.
type Notifier struct {
	pub    Publisher
	prefix string
	runID  string
	ctx    context.Context
}

func New(ctx context.Context, pub Publisher, prefix, runID string) *Notifier {
	return &Notifier{
		pub:    pub,
		prefix: prefix,
		runID:  runID,
		ctx:    logger.WithValue(ctx, "run", runID),
	}
}

func (n *Notifier) Notify(e replay.Event) {
	data, err := json.Marshal(eventMessage{
		Seq:       e.Seq,
		Kind:      string(e.Kind),
		Detail:    e.Detail(),
		DelayMS:   ms(e.Delay),
		ElapsedMS: ms(e.Elapsed),
		State:     e.State,
		At:        e.At.UTC(),
	})
	if err != nil {
		logger.Errorf(n.ctx, "encoding event: %s", err)
		return
	}
	if err := n.pub.Publish(EventsTopic(n.prefix, n.runID), false, data); err != nil {
		logger.Warnf(n.ctx, "publishing event %d: %s", e.Seq, err)
	}
}

// Status publishes the retained run status.
func (n *Notifier) Status(status string, runErr error, at time.Time) error {
	return n.pub.Publish(StatusTopic(n.prefix, n.runID), true, statusPayload(status, runErr, at))
}
