package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"event-attach/internal/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFeed 는 watch 엔드포인트 흉내를 내는 WebSocket 서버이다.
type fakeFeed struct {
	srv   *httptest.Server
	conns chan *websocket.Conn
	hits  atomic.Int64
	query chan string
}

func newFakeFeed(t *testing.T) *fakeFeed {
	t.Helper()

	f := &fakeFeed{
		conns: make(chan *websocket.Conn, 4),
		query: make(chan string, 4),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.query <- r.URL.Path + "?" + r.URL.RawQuery
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- ws
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFeed) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-f.conns:
		t.Cleanup(func() { ws.Close() })
		return ws
	case <-time.After(2 * time.Second):
		t.Fatal("watch was never opened")
		return nil
	}
}

func send(t *testing.T, ws *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(frame)))
}

type recorder struct {
	mu     sync.Mutex
	frames []model.Frame
	errs   []error
	got    chan struct{}
}

func newRecorder(c *Conn) *recorder {
	r := &recorder{got: make(chan struct{}, 64)}
	c.OnRecord(func(f model.Frame) {
		r.mu.Lock()
		r.frames = append(r.frames, f)
		r.mu.Unlock()
		r.got <- struct{}{}
	})
	c.OnError(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
		r.got <- struct{}{}
	})
	return r
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for callback %d of %d", i+1, n)
		}
	}
}

func (r *recorder) snapshot() ([]model.Frame, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Frame(nil), r.frames...), append([]error(nil), r.errs...)
}

var podFilter = Filter{Kind: "Pod", Name: "web-0", Namespace: "shop", UID: "1234"}

func waitSettled(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Settled():
	case <-time.After(2 * time.Second):
		t.Fatal("connection never settled")
	}
}

func TestOpen_IncompleteFilterStaysIdle(t *testing.T) {
	feed := newFakeFeed(t)

	for _, f := range []Filter{
		{Name: "web-0", Namespace: "shop"},
		{Kind: "Pod", Namespace: "shop"},
		{Kind: "Pod", Name: "web-0"},
	} {
		c := New(Options{BaseURL: feed.srv.URL})
		err := c.Open(context.Background(), f)
		assert.ErrorIs(t, err, ErrIncompleteFilter)
		assert.Equal(t, Idle, c.State())
		c.Close()
	}

	assert.Zero(t, feed.hits.Load())
}

func TestOpen_RequestsFilteredWatch(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})
	defer c.Close()

	require.NoError(t, c.Open(context.Background(), podFilter))
	assert.Equal(t, Connecting, c.State())

	select {
	case q := <-feed.query:
		assert.Equal(t,
			"/api/v1/namespaces/shop/events?fieldSelector=involvedObject.kind%3DPod%2CinvolvedObject.name%3Dweb-0%2CinvolvedObject.uid%3D1234&watch=true",
			q)
	case <-time.After(2 * time.Second):
		t.Fatal("no request")
	}
}

func TestOpen_TwiceFails(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})
	defer c.Close()

	require.NoError(t, c.Open(context.Background(), podFilter))
	assert.Error(t, c.Open(context.Background(), podFilter))
}

func TestConn_TimesOutWithoutFrames(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL, NoDataTimeout: 50 * time.Millisecond})
	defer c.Close()
	rec := newRecorder(c)

	require.NoError(t, c.Open(context.Background(), podFilter))
	feed.accept(t)
	waitSettled(t, c)

	assert.Equal(t, TimedOut, c.State())
	frames, errs := rec.snapshot()
	assert.Empty(t, frames)
	assert.Empty(t, errs)
}

func TestConn_LateFrameAfterTimeout(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL, NoDataTimeout: 30 * time.Millisecond})
	defer c.Close()
	rec := newRecorder(c)

	require.NoError(t, c.Open(context.Background(), podFilter))
	ws := feed.accept(t)
	waitSettled(t, c)
	require.Equal(t, TimedOut, c.State())

	send(t, ws, `{"type":"ADDED","object":{"reason":"Late"}}`)
	rec.wait(t, 1)

	assert.Equal(t, Streaming, c.State())
	frames, _ := rec.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, "Late", frames[0].Object.Reason())
}

func TestConn_DeliversEveryFrameInOrder(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})
	defer c.Close()
	rec := newRecorder(c)

	var states []State
	var smu sync.Mutex
	c.OnStateChange(func(s State) {
		smu.Lock()
		states = append(states, s)
		smu.Unlock()
	})

	require.NoError(t, c.Open(context.Background(), podFilter))
	ws := feed.accept(t)

	send(t, ws, `{"type":"ADDED","object":{"reason":"Scheduled"}}`)
	send(t, ws, `{"type":"MODIFIED","object":{"reason":"Pulled"}}`)
	send(t, ws, `{"type":"DELETED","object":{"reason":"Killing"}}`)
	rec.wait(t, 3)
	waitSettled(t, c)

	frames, errs := rec.snapshot()
	require.Empty(t, errs)
	require.Len(t, frames, 3)
	assert.Equal(t, model.Added, frames[0].Type)
	assert.Equal(t, model.Modified, frames[1].Type)
	assert.Equal(t, model.Deleted, frames[2].Type)
	assert.Equal(t, "Pulled", frames[1].Object.Reason())
	assert.Equal(t, Streaming, c.State())

	smu.Lock()
	assert.Equal(t, []State{Connecting, Streaming}, states)
	smu.Unlock()
}

func TestConn_ParseErrorDoesNotStopStream(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})
	defer c.Close()
	rec := newRecorder(c)

	require.NoError(t, c.Open(context.Background(), podFilter))
	ws := feed.accept(t)

	send(t, ws, `{not json`)
	send(t, ws, `{"object":{}}`)
	send(t, ws, `{"type":"ADDED","object":{"reason":"Started"}}`)
	rec.wait(t, 3)

	frames, errs := rec.snapshot()
	require.Len(t, errs, 2)
	for _, err := range errs {
		var pe *ParseError
		assert.ErrorAs(t, err, &pe)
	}
	require.Len(t, frames, 1)
	assert.Equal(t, "Started", frames[0].Object.Reason())
	assert.Equal(t, Streaming, c.State())
}

func TestConn_DroppedConnectionIsTerminal(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})
	defer c.Close()
	rec := newRecorder(c)

	require.NoError(t, c.Open(context.Background(), podFilter))
	ws := feed.accept(t)
	send(t, ws, `{"type":"ADDED","object":{}}`)
	rec.wait(t, 1)

	require.NoError(t, ws.Close())
	rec.wait(t, 1)

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}

	_, errs := rec.snapshot()
	require.Len(t, errs, 1)
	var ce *ConnectionError
	assert.ErrorAs(t, errs[0], &ce)
	assert.Equal(t, Errored, c.State())
}

func TestConn_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := New(Options{BaseURL: srv.URL})
	defer c.Close()
	rec := newRecorder(c)

	require.NoError(t, c.Open(context.Background(), podFilter))
	rec.wait(t, 1)
	srv.Close()

	_, errs := rec.snapshot()
	require.Len(t, errs, 1)
	var ce *ConnectionError
	require.ErrorAs(t, errs[0], &ce)
	assert.Contains(t, ce.Error(), "404")
	assert.Equal(t, Errored, c.State())
}

func TestConn_CloseStopsDelivery(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})
	rec := newRecorder(c)

	require.NoError(t, c.Open(context.Background(), podFilter))
	ws := feed.accept(t)
	send(t, ws, `{"type":"ADDED","object":{}}`)
	rec.wait(t, 1)

	c.Close()
	c.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}

	_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ADDED","object":{}}`))
	time.Sleep(50 * time.Millisecond)

	frames, errs := rec.snapshot()
	assert.Len(t, frames, 1)
	assert.Empty(t, errs)
	assert.Equal(t, Closed, c.State())
}

func TestConn_CloseBeforeOpen(t *testing.T) {
	c := New(Options{BaseURL: "http://127.0.0.1:1"})
	c.Close()

	assert.Equal(t, Closed, c.State())
	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed")
	}
	assert.Error(t, c.Open(context.Background(), podFilter))
}

func TestConn_ContextCancelCloses(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, c.Open(ctx, podFilter))
	feed.accept(t)
	cancel()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit")
	}
	assert.Equal(t, Closed, c.State())
}

func TestErrorsUnwrap(t *testing.T) {
	base := errors.New("boom")
	assert.ErrorIs(t, &ConnectionError{Err: base}, base)
	assert.ErrorIs(t, &ParseError{Err: base}, base)
}

func TestStateText(t *testing.T) {
	b, err := TimedOut.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "timed_out", string(b))
	assert.Equal(t, "state(42)", State(42).String())
}

func TestConn_CallbackSwappedAfterOpenAppliesToNextFrame(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})
	defer c.Close()
	first := newRecorder(c)

	require.NoError(t, c.Open(context.Background(), podFilter))
	ws := feed.accept(t)
	send(t, ws, `{"type":"ADDED","object":{"reason":"One"}}`)
	first.wait(t, 1)

	second := newRecorder(c)
	send(t, ws, `{"type":"ADDED","object":{"reason":"Two"}}`)
	second.wait(t, 1)

	got1, _ := first.snapshot()
	got2, _ := second.snapshot()
	require.Len(t, got1, 1)
	require.Len(t, got2, 1)
	assert.Equal(t, "One", got1[0].Object.Reason())
	assert.Equal(t, "Two", got2[0].Object.Reason())
}

func TestConn_DoneAfterCloseMeansNoMoreCallbacks(t *testing.T) {
	feed := newFakeFeed(t)
	c := New(Options{BaseURL: feed.srv.URL})

	var calls atomic.Int64
	c.OnRecord(func(model.Frame) { calls.Add(1) })
	require.NoError(t, c.Open(context.Background(), podFilter))
	ws := feed.accept(t)

	stop := make(chan struct{})
	writer := make(chan struct{})
	go func() {
		defer close(writer)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ADDED","object":{}}`)) != nil {
				return
			}
		}
	}()
	defer func() {
		close(stop)
		<-writer
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 10 }, 2*time.Second, time.Millisecond)
	c.Close()
	<-c.Done()

	n := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}
