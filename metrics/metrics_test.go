package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slcjordan/demoreel"
	"github.com/slcjordan/demoreel/replay"
)

var t0 = time.Date(2020, 7, 8, 9, 30, 0, 0, time.UTC)

type pointRecorder struct{ points []*write.Point }

func (p *pointRecorder) WritePoint(pt *write.Point) { p.points = append(p.points, pt) }

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Millisecond))
}

func TestPoints(t *testing.T) {
	r := NewRecorder(&pointRecorder{}, "intro", "run-1")

	tests := []struct {
		name  string
		event replay.Event
		want  string
	}{
		{
			name:  "keystroke",
			event: replay.Event{Seq: 1, Kind: replay.EventDispatch, Action: demoreel.Char('a'), Delay: 80 * time.Millisecond, At: t0},
			want:  "replay,input=keyboard,kind=dispatch,run=run-1,scene=intro delay_ms=80,seq=1i 1594200600000",
		},
		{
			name:  "click",
			event: replay.Event{Seq: 2, Kind: replay.EventDispatch, Action: demoreel.Click(demoreel.ButtonLeft, demoreel.Location{}), Delay: 50 * time.Millisecond, At: t0},
			want:  "replay,input=mouse,kind=dispatch,run=run-1,scene=intro delay_ms=50,seq=2i 1594200600000",
		},
		{
			name:  "wait",
			event: replay.Event{Seq: 3, Kind: replay.EventWait, Template: demoreel.Template{Name: "create"}, State: "matched", Elapsed: 750 * time.Millisecond, At: t0},
			want:  "replay,kind=wait,run=run-1,scene=intro,state=matched,template=create elapsed_ms=750,seq=3i 1594200600000",
		},
		{
			name:  "rate",
			event: replay.Event{Seq: 4, Kind: replay.EventRate, WPM: 240, At: t0},
			want:  "replay,kind=rate,run=run-1,scene=intro seq=4i,wpm=240 1594200600000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.Point(tt.event)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, line(p))
		})
	}
}

func TestUnknownEventHasNoPoint(t *testing.T) {
	w := &pointRecorder{}
	r := NewRecorder(w, "intro", "run-1")

	r.Notify(replay.Event{Kind: "other"})
	assert.Empty(t, w.points)
}

func TestClientWritesToServer(t *testing.T) {
	var mu sync.Mutex
	var body strings.Builder
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasSuffix(req.URL.Path, "/write") {
			data, _ := io.ReadAll(req.Body)
			mu.Lock()
			body.Write(data)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := Connect(context.Background(), Options{URL: srv.URL, Token: "t", Org: "rig", Bucket: "demoreel"})
	require.NoError(t, err)

	NewRecorder(c, "intro", "run-1").Notify(replay.Event{Seq: 1, Kind: replay.EventPause, Delay: time.Second, At: t0})
	require.NoError(t, c.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, body.String(), "replay,kind=pause,run=run-1,scene=intro delay_ms=1000,seq=1i")
}

func TestConnectUnhealthyServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := Connect(context.Background(), Options{URL: srv.URL})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}
