// Package metrics writes replay timings to InfluxDB: every keystroke delay,
// pause and visual wait becomes a point, so pacing can be compared across
// takes of the same scene.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/slcjordan/demoreel/logger"
	"github.com/slcjordan/demoreel/replay"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 100
	defaultFlushInterval  = time.Second

	Measurement = "replay"
)

var ErrConnectionFailed = errors.New("influxdb connection failed")

type Options struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// BatchSize and FlushInterval tune the non-blocking write API.
	BatchSize     uint
	FlushInterval time.Duration
}

type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

func Connect(ctx context.Context, opts Options) (*Client, error) {
	batch := opts.BatchSize
	if batch == 0 {
		batch = defaultBatchSize
	}
	flush := opts.FlushInterval
	if flush <= 0 {
		flush = defaultFlushInterval
	}
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batch).
			SetFlushInterval(uint(flush.Milliseconds())))

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(opts.Org, opts.Bucket)
	errCtx := logger.WithValue(ctx, "influxdb", opts.URL)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warnf(errCtx, "influxdb write: %s", err)
		}
	}()
	return &Client{client: client, writeAPI: writeAPI}, nil
}

func (c *Client) WritePoint(p *write.Point) {
	c.writeAPI.WritePoint(p)
}

// Close flushes pending points before closing.
func (c *Client) Close() error {
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

type PointWriter interface {
	WritePoint(*write.Point)
}

// Recorder turns replay events of one run into points. It is a
// replay.Listener.
type Recorder struct {
	w     PointWriter
	scene string
	runID string
}

func NewRecorder(w PointWriter, scene, runID string) *Recorder {
	return &Recorder{w: w, scene: scene, runID: runID}
}

func (r *Recorder) Notify(e replay.Event) {
	if p := r.Point(e); p != nil {
		r.w.WritePoint(p)
	}
}

// Point is the point for e, or nil for events that carry no timing.
func (r *Recorder) Point(e replay.Event) *write.Point {
	tags := map[string]string{
		"scene": r.scene,
		"run":   r.runID,
		"kind":  string(e.Kind),
	}
	fields := map[string]interface{}{"seq": e.Seq}
	switch e.Kind {
	case replay.EventDispatch:
		if e.Action.IsKeyboard() {
			tags["input"] = "keyboard"
		} else {
			tags["input"] = "mouse"
		}
		fields["delay_ms"] = ms(e.Delay)
	case replay.EventPause:
		fields["delay_ms"] = ms(e.Delay)
	case replay.EventWait:
		tags["template"] = e.Template.String()
		tags["state"] = e.State
		fields["elapsed_ms"] = ms(e.Elapsed)
	case replay.EventRate:
		fields["wpm"] = e.WPM
	default:
		return nil
	}
	return write.NewPoint(Measurement, tags, fields, e.At)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
