package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"event-attach/internal/config"
	"event-attach/internal/export"
	"event-attach/internal/ingest"
	"event-attach/internal/metrics"
	"event-attach/internal/model"
	"event-attach/internal/stream"
	"event-attach/internal/window"

	zlog "github.com/rs/zerolog/log"
)

var (
	// ErrNothingToExport 는 buffer 가 비어 export 할 레코드가 없을 때 반환된다.
	ErrNothingToExport = errors.New("session: nothing to export")
	// ErrClosed 는 닫힌 세션을 조작하려 할 때 반환된다.
	ErrClosed = errors.New("session: closed")
	// ErrInvalidWindow 는 1 보다 작은 window 크기를 요청했을 때 반환된다.
	ErrInvalidWindow = errors.New("session: window size must be positive")
)

// Sink 는 submit 된 첨부를 받는 쪽이다 (store.Dispatcher).
// 호출은 fire-and-forget 이며 응답을 기다리지 않는다.
type Sink interface {
	Submit(p *model.AttachmentPayload) error
}

// Options 는 세션이 공유하는 의존성이다.
type Options struct {
	Stream  stream.Options
	Sink    Sink
	Metrics *metrics.Metrics
}

// StreamOptions 는 config 에서 stream.Options 를 만든다.
func StreamOptions(cfg config.Config) stream.Options {
	header := http.Header{}
	if cfg.FeedToken != "" {
		header.Set("Authorization", "Bearer "+cfg.FeedToken)
	}
	return stream.Options{
		BaseURL:          cfg.FeedBaseURL,
		Header:           header,
		NoDataTimeout:    cfg.NoDataTimeout,
		HandshakeTimeout: cfg.FeedHandshakeTimeout,
		ReadLimit:        cfg.FeedReadLimit,
	}
}

// Status 는 세션의 현재 모습이다. UI 가 주기적으로 조회한다.
type Status struct {
	ID          string       `json:"id"`
	Kind        string       `json:"kind"`
	Name        string       `json:"name"`
	Namespace   string       `json:"namespace"`
	UID         string       `json:"uid,omitempty"`
	State       stream.State `json:"state"`
	Buffered    int          `json:"buffered"`
	Requested   *int         `json:"requested"`
	Effective   int          `json:"effective"`
	CanExport   bool         `json:"can_export"`
	Error       string       `json:"error,omitempty"`
	ParseErrors int          `json:"parse_errors"`
}

// Session
// ------------------------------------------------------------
// 첨부 다이얼로그 하나의 수명.
// 연결 1개(stream.Conn)와 그 연결이 채우는 Buffer 1개를 소유한다.
//
//   - Start/Retarget 은 항상 새 연결 + 빈 Buffer 로 시작한다
//   - Close 는 연결을 닫고 Buffer 를 고정한다. 이후 도착한 레코드는 버려진다
//   - Preview/Submit 은 호출 시점의 Buffer 로 window 를 다시 계산한다
//
// conn 콜백은 s.mu 를 잠깐 잡는다. conn.Close 는 loop 종료를 기다리지 않으므로
// s.mu 를 잡은 채 conn.Close 를 불러도 교착되지 않는다.
// 대신 Close/Retarget 은 s.mu 를 놓은 뒤 이전 conn 의 Done 을 기다린다.
// 반환 시점에는 이전 연결의 콜백이 더 이상 돌고 있지 않다.
type Session struct {
	id   string
	opts Options

	mu          sync.Mutex
	filter      stream.Filter
	conn        *stream.Conn
	buf         *ingest.Buffer
	req         window.Request
	lastErr     error
	parseErrors int
	closed      bool

	lastSeen atomic.Int64 // unix nano, Manager 의 idle reaper 가 본다
}

func newSession(id string, f stream.Filter, opts Options) *Session {
	s := &Session{
		id:     id,
		opts:   opts,
		filter: f,
		buf:    ingest.NewBuffer(),
	}
	s.touch(time.Now())
	return s
}

func (s *Session) ID() string { return s.id }

// Start 는 filter 대상 watch 를 연다.
// filter 가 불완전하면 연결하지 않고 Idle 로 남는다 (에러 아님).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.conn != nil {
		return fmt.Errorf("session %s: already started", s.id)
	}
	return s.connectLocked(ctx)
}

// Retarget 은 이전 연결을 닫고 새 filter 로 처음부터 다시 시작한다.
// Buffer, window 요청, 에러 기록 모두 초기화된다.
func (s *Session) Retarget(ctx context.Context, f stream.Filter) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old := s.teardownLocked()

	s.filter = f
	s.buf = ingest.NewBuffer()
	s.req = window.Request{}
	s.lastErr = nil
	s.parseErrors = 0
	err := s.connectLocked(ctx)
	s.mu.Unlock()

	waitExit(old)
	return err
}

func (s *Session) connectLocked(ctx context.Context) error {
	conn := stream.New(s.opts.Stream)
	ing := ingest.NewIngestor(s.buf)

	conn.OnRecord(func(f model.Frame) { s.handleFrame(ing, f) })
	conn.OnError(func(err error) { s.handleError(conn, err) })
	conn.OnStateChange(func(st stream.State) { s.handleState(st) })
	s.conn = conn

	err := conn.Open(ctx, s.filter)
	if errors.Is(err, stream.ErrIncompleteFilter) {
		zlog.Debug().Str("session", s.id).Msg("incomplete target, not connecting")
		return nil
	}
	if err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	zlog.Info().
		Str("session", s.id).
		Str("kind", s.filter.Kind).
		Str("name", s.filter.Name).
		Str("namespace", s.filter.Namespace).
		Msg("watch opened")
	return nil
}

// teardownLocked 는 연결을 닫고 Buffer 를 고정한다.
// 순서 중요: conn.Close 이후 Freeze 해야 진행 중이던 deliver 도 append 하지 못한다.
// 닫은 conn 을 돌려주며, 호출자는 s.mu 를 놓은 뒤 waitExit 해야 한다.
func (s *Session) teardownLocked() *stream.Conn {
	conn := s.conn
	if conn != nil {
		conn.Close()
	}
	s.buf.Freeze()
	return conn
}

// waitExit 는 conn 의 loop 가 끝날 때까지 기다린다.
// handleError 가 s.mu 를 잡으므로 s.mu 를 잡은 채 부르면 안 된다.
func waitExit(conn *stream.Conn) {
	if conn != nil {
		<-conn.Done()
	}
}

func (s *Session) handleFrame(ing *ingest.Ingestor, f model.Frame) {
	m := s.opts.Metrics
	atomic.AddInt64(&m.FramesReceivedTotal, 1)

	rec, res := ing.Ingest(f)
	switch res {
	case ingest.Appended:
		atomic.AddInt64(&m.RecordsIngestedTotal, 1)
		zlog.Debug().
			Str("session", s.id).
			Str("event", rec.Name()).
			Str("reason", rec.Reason()).
			Str("last_timestamp", rec.LastTimestamp()).
			Msg("event ingested")
	case ingest.Discarded:
		atomic.AddInt64(&m.FramesDiscardedTotal, 1)
	case ingest.Rejected:
		atomic.AddInt64(&m.RecordsAfterCloseTotal, 1)
	}
}

func (s *Session) handleError(conn *stream.Conn, err error) {
	m := s.opts.Metrics

	s.mu.Lock()
	current := s.conn == conn
	s.mu.Unlock()

	var pe *stream.ParseError
	if errors.As(err, &pe) {
		atomic.AddInt64(&m.FramesReceivedTotal, 1)
		atomic.AddInt64(&m.FrameParseErrorsTotal, 1)
		zlog.Warn().Err(err).Str("session", s.id).Msg("unparsable frame skipped")
		if current {
			s.mu.Lock()
			s.parseErrors++
			s.mu.Unlock()
		}
		return
	}

	atomic.AddInt64(&m.WatchErrorsTotal, 1)
	zlog.Warn().Err(err).Str("session", s.id).Msg("watch failed")
	if current {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
}

func (s *Session) handleState(st stream.State) {
	if st == stream.TimedOut {
		atomic.AddInt64(&s.opts.Metrics.WatchTimeoutsTotal, 1)
		zlog.Info().Str("session", s.id).Msg("no events before timeout")
	}
}

// SetWindow 는 요청 window 크기를 바꾼다. nil 이면 기본값으로 돌아간다.
func (s *Session) SetWindow(size *int) error {
	if size != nil && *size < 1 {
		return ErrInvalidWindow
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if size == nil {
		s.req = window.Request{}
		return nil
	}
	s.req = window.Sized(*size)
	return nil
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		ID:          s.id,
		Kind:        s.filter.Kind,
		Name:        s.filter.Name,
		Namespace:   s.filter.Namespace,
		UID:         s.filter.UID,
		State:       stream.Idle,
		Buffered:    s.buf.Len(),
		ParseErrors: s.parseErrors,
	}
	if s.conn != nil {
		st.State = s.conn.State()
	}
	if s.req.Size != nil {
		n := *s.req.Size
		st.Requested = &n
	}
	st.Effective = window.EffectiveSize(st.Buffered, s.req)
	st.CanExport = !s.closed && st.Effective >= 1
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}

// Preview 는 지금 Buffer 기준 첨부를 만든다. 어디로도 보내지 않는다.
func (s *Session) Preview() (*model.AttachmentPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encodeLocked()
}

// Submit 은 submit 시점의 Buffer 로 window 를 다시 골라 Sink 로 넘긴다.
// 빈 Buffer 면 ErrNothingToExport. 세션은 닫지 않는다.
func (s *Session) Submit() (*model.AttachmentPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	p, err := s.encodeLocked()
	if err != nil {
		return nil, err
	}

	if s.opts.Sink != nil {
		if err := s.opts.Sink.Submit(p); err != nil {
			return p, fmt.Errorf("session %s: hand off: %w", s.id, err)
		}
	}

	m := s.opts.Metrics
	atomic.AddInt64(&m.ExportsTotal, 1)
	atomic.AddInt64(&m.ExportedRecordsTotal, int64(p.Metadata.Lines))
	zlog.Info().Str("session", s.id).Int("lines", p.Metadata.Lines).Msg("attachment submitted")
	return p, nil
}

func (s *Session) encodeLocked() (*model.AttachmentPayload, error) {
	selection := window.Select(s.buf.Snapshot(), s.req)
	if len(selection) == 0 {
		return nil, ErrNothingToExport
	}
	return export.Encode(selection, export.Target{
		Kind:      s.filter.Kind,
		Name:      s.filter.Name,
		Namespace: s.filter.Namespace,
	})
}

// Close 는 연결을 닫고 Buffer 를 고정한다. 멱등.
// 연결의 loop 가 끝난 뒤에 반환하므로, 이후로는 어떤 콜백도 불리지 않는다.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		conn := s.conn
		s.mu.Unlock()
		waitExit(conn)
		return
	}
	s.closed = true
	conn := s.teardownLocked()
	buffered := s.buf.Len()
	s.mu.Unlock()

	waitExit(conn)
	zlog.Info().Str("session", s.id).Int("buffered", buffered).Msg("session closed")
}

// Settled 는 현재 연결이 Connecting 을 벗어나면 닫힌다.
// 연결하지 않은(Idle) 세션은 이미 닫힌 채널을 돌려준다.
func (s *Session) Settled() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.State() == stream.Idle {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.conn.Settled()
}

func (s *Session) touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastSeen.Load()))
}
