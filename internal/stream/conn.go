package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"event-attach/internal/model"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// DefaultNoDataTimeout 는 첫 프레임을 기다리는 기본 시간이다.
// 이 시간 안에 아무 프레임도 오지 않으면 "이벤트 없음" 으로 간주한다.
const DefaultNoDataTimeout = 10 * time.Second

// State 는 watch 연결의 상태이다.
//
//	Idle ─Open→ Connecting ─첫 프레임→ Streaming
//	                 │
//	                 ├─timeout→ TimedOut ─늦은 프레임→ Streaming
//	                 └─transport 실패→ Errored
//	(모든 상태) ─Close→ Closed
type State int32

const (
	Idle State = iota
	Connecting
	Streaming
	TimedOut
	Errored
	Closed
)

var stateNames = [...]string{"idle", "connecting", "streaming", "timed_out", "errored", "closed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionError 는 transport 실패이다. 연결당 최대 한 번 보고되며 재연결하지 않는다.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return "stream: connection failed: " + e.Err.Error() }
func (e *ConnectionError) Unwrap() error { return e.Err }

// ParseError 는 디코딩할 수 없는 프레임 1개이다. 스트림은 계속된다.
type ParseError struct {
	Data []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stream: unparsable frame (%d bytes): %v", len(e.Data), e.Err)
}
func (e *ParseError) Unwrap() error { return e.Err }

var errMissingType = errors.New("frame has no type")

// Options 는 Conn 설정이다.
type Options struct {
	BaseURL          string        // 예: https://console.example.com/api/kubernetes
	Header           http.Header   // 인증 헤더 등. 호출자가 만들어 넘긴다.
	NoDataTimeout    time.Duration // 0 이면 DefaultNoDataTimeout
	HandshakeTimeout time.Duration
	ReadLimit        int64             // 프레임 최대 바이트. 0 이면 제한 없음
	Dialer           *websocket.Dialer // nil 이면 기본 dialer
}

// Conn
// ------------------------------------------------------------
// 하나의 resource event feed 에 대한 push 기반 watch 구독.
//
// 모든 콜백(OnRecord / OnError)은 내부 loop goroutine 하나에서만 호출되므로
// 프레임은 도착 순서대로 하나씩 처리된다.
// loop 는 두 트리거(NoDataTimeout 타이머, 다음 프레임)를 같은 select 에서 기다린다.
//
// Close 는 어느 goroutine 에서 불러도 되고 여러 번 불러도 된다.
// 연결을 버릴 때는 반드시 Close 해야 한다.
type Conn struct {
	opts Options

	mu       sync.Mutex
	state    State
	started  bool
	ws       *websocket.Conn
	cancel   context.CancelFunc
	timer    *time.Timer
	onRecord func(model.Frame)
	onError  func(error)
	onState  func(State)

	done       chan struct{} // Close 시 닫힘
	exited     chan struct{} // loop 종료 시 닫힘
	settled    chan struct{} // Connecting 을 벗어나면 닫힘
	settleOnce sync.Once
}

type dialResult struct {
	ws  *websocket.Conn
	err error
}

func New(opts Options) *Conn {
	if opts.NoDataTimeout <= 0 {
		opts.NoDataTimeout = DefaultNoDataTimeout
	}
	return &Conn{
		opts:    opts,
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
		settled: make(chan struct{}),
	}
}

// OnRecord 는 디코딩된 프레임을 받을 콜백을 등록한다. 필터링은 하지 않는다.
// Open 이후에 바꿔도 되며, 다음 프레임부터 새 콜백이 불린다.
func (c *Conn) OnRecord(fn func(model.Frame)) {
	c.mu.Lock()
	c.onRecord = fn
	c.mu.Unlock()
}

// OnError 는 *ParseError, *ConnectionError 를 받을 콜백을 등록한다.
func (c *Conn) OnError(fn func(error)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// OnStateChange 는 상태 전이 알림을 등록한다.
// Close 로 인한 전이는 Close 를 부른 goroutine 에서 호출된다.
func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Settled 는 Connecting 단계가 끝나면(첫 프레임, timeout, 에러, Close) 닫힌다.
func (c *Conn) Settled() <-chan struct{} { return c.settled }

// Done 은 loop 가 끝나 더 이상 콜백이 호출되지 않을 때 닫힌다.
// Close 는 loop 를 기다리지 않으므로, 콜백이 끝났음을 보장하려면 Close 뒤에 Done 을 기다린다.
// 콜백 안에서 Done 을 기다리면 교착된다.
func (c *Conn) Done() <-chan struct{} { return c.exited }

// Open 은 filter 대상 watch 를 시작한다.
// filter 가 불완전하면 ErrIncompleteFilter 를 반환하고 Idle 로 남는다 (네트워크 요청 없음).
// dial 은 비동기로 진행되며 실패는 OnError 로 보고된다.
// ctx 가 취소되면 Close 와 같다.
func (c *Conn) Open(ctx context.Context, f Filter) error {
	rawURL, err := FeedURL(c.opts.BaseURL, f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Idle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("stream: open in state %s", st)
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.state = Connecting
	c.started = true
	c.timer = time.NewTimer(c.opts.NoDataTimeout)
	c.mu.Unlock()

	c.notify(Connecting)
	go c.run(ctx, rawURL)
	return nil
}

// Close 는 타이머, 진행 중인 dial, 소켓을 모두 정리한다. 멱등.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	close(c.done)
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.ws != nil {
		_ = c.ws.Close()
	}
	started := c.started
	c.mu.Unlock()

	if !started {
		close(c.exited)
	}
	c.settle()
	c.notify(Closed)
}

// run 은 연결 하나의 loop 이다.
// dial 결과, 타이머, 프레임, read 에러를 하나의 select 로 직렬화한다.
func (c *Conn) run(ctx context.Context, rawURL string) {
	defer close(c.exited)

	dialed := make(chan dialResult)
	go c.dial(ctx, rawURL, dialed)

	var (
		frames  chan []byte
		readErr chan error
	)

	for {
		select {
		case <-c.done:
			return

		case <-ctx.Done():
			c.Close()
			return

		case res := <-dialed:
			dialed = nil
			if res.err != nil {
				c.fail(res.err)
				return
			}
			if !c.attach(res.ws) {
				return
			}
			frames = make(chan []byte)
			readErr = make(chan error, 1)
			go c.read(res.ws, frames, readErr)

		case <-c.timer.C:
			c.expire()

		case data := <-frames:
			c.deliver(data)

		case err := <-readErr:
			c.fail(err)
			return
		}
	}
}

func (c *Conn) dial(ctx context.Context, rawURL string, out chan<- dialResult) {
	d := c.opts.Dialer
	if d == nil {
		d = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.opts.HandshakeTimeout,
		}
	}

	ws, resp, err := d.DialContext(ctx, rawURL, c.opts.Header)
	if err != nil && resp != nil {
		err = fmt.Errorf("%w (status %s)", err, resp.Status)
	}

	select {
	case out <- dialResult{ws: ws, err: err}:
	case <-c.exited:
		// loop 가 이미 끝났으면 소켓을 직접 닫는다.
		if ws != nil {
			_ = ws.Close()
		}
	}
}

func (c *Conn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		_ = ws.Close()
		return false
	}
	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}
	c.ws = ws
	return true
}

func (c *Conn) read(ws *websocket.Conn, frames chan<- []byte, errs chan<- error) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		select {
		case frames <- data:
		case <-c.exited:
			return
		}
	}
}

// deliver 는 프레임 1개를 처리한다.
// 어떤 프레임이든 도착하면 타이머를 멈추고 Streaming 으로 간다 (디코딩 실패 포함).
func (c *Conn) deliver(data []byte) {
	c.mu.Lock()
	if c.state == Closed || c.state == Errored {
		c.mu.Unlock()
		return
	}
	changed := false
	if c.state == Connecting || c.state == TimedOut {
		c.state = Streaming
		c.timer.Stop()
		changed = true
	}
	onRecord, onError := c.onRecord, c.onError
	c.mu.Unlock()

	if changed {
		c.settle()
		c.notify(Streaming)
	}

	var f model.Frame
	err := json.Unmarshal(data, &f)
	if err == nil && f.Type == "" {
		err = errMissingType
	}
	if err != nil {
		if onError != nil {
			onError(&ParseError{Data: data, Err: err})
		}
		return
	}

	if onRecord != nil {
		onRecord(f)
	}
}

func (c *Conn) expire() {
	c.mu.Lock()
	if c.state != Connecting {
		c.mu.Unlock()
		return
	}
	c.state = TimedOut
	c.mu.Unlock()

	c.settle()
	c.notify(TimedOut)
}

// fail 은 transport 실패를 처리한다. Errored 는 종착 상태이며 OnError 는 한 번만 호출된다.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.state == Closed || c.state == Errored {
		c.mu.Unlock()
		return
	}
	c.state = Errored
	c.timer.Stop()
	c.cancel()
	if c.ws != nil {
		_ = c.ws.Close()
	}
	onError := c.onError
	c.mu.Unlock()

	c.settle()
	c.notify(Errored)
	if onError != nil {
		onError(&ConnectionError{Err: err})
	}
}

func (c *Conn) settle() {
	c.settleOnce.Do(func() { close(c.settled) })
}

func (c *Conn) notify(s State) {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
