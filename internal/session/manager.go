package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"event-attach/internal/config"
	"event-attach/internal/model"
	"event-attach/internal/stream"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

var (
	ErrNotFound        = errors.New("session: not found")
	ErrTooManySessions = errors.New("session: too many open sessions")
)

// Manager
// ------------------------------------------------------------
// 살아있는 세션들의 registry.
//
//   - Open:     uuid 로 세션 생성 + watch 시작 (MaxSessions 초과 시 거절)
//   - Get:      조회. 조회할 때마다 idle 시계를 되돌린다
//   - Submit:   첨부를 넘기고 세션을 닫는다 (다이얼로그는 첨부 후 닫힌다)
//   - reaper:   SessionIdleTTL 동안 아무도 조회하지 않은 세션을 닫는다
//
// 관찰자가 사라진 세션의 연결이 남지 않도록 reaper 가 강제로 정리한다.
type Manager struct {
	cfg  config.Config
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
	now      func() time.Time
}

func NewManager(cfg config.Config, opts Options) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		opts:     opts,
		sessions: make(map[string]*Session),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Start 는 idle reaper 를 띄운다.
func (m *Manager) Start() {
	if m.cfg.SessionIdleTTL <= 0 {
		return
	}
	interval := m.cfg.SessionIdleTTL / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}

	m.wg.Add(1)
	go m.reapLoop(interval)
}

// Open 은 새 세션을 만들고 watch 를 시작한다.
// filter 가 불완전하면 Idle 세션이 만들어진다.
func (m *Manager) Open(f stream.Filter) (*Session, error) {
	m.mu.Lock()
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s := newSession(uuid.NewString(), f, m.opts)
	s.touch(m.now())
	m.sessions[s.id] = s
	m.mu.Unlock()

	if err := s.Start(m.ctx); err != nil {
		m.remove(s.id)
		s.Close()
		return nil, err
	}

	atomic.AddInt64(&m.opts.Metrics.SessionsOpenedTotal, 1)
	atomic.AddInt64(&m.opts.Metrics.SessionsActive, 1)
	return s, nil
}

// Get 은 세션을 찾고 마지막 관찰 시각을 갱신한다.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Retarget 은 세션을 새 대상으로 다시 연다.
func (m *Manager) Retarget(id string, f stream.Filter) (*Session, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := s.Retarget(m.ctx, f); err != nil {
		return nil, err
	}
	return s, nil
}

// Submit 은 첨부를 넘긴 뒤 세션을 닫는다.
// 넘길 게 없으면(ErrNothingToExport) 세션은 그대로 둔다.
func (m *Manager) Submit(id string) (*model.AttachmentPayload, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	p, err := s.Submit()
	if err != nil {
		return p, err
	}
	_ = m.Close(id)
	return p, nil
}

// Close 는 세션을 registry 에서 빼고 닫는다.
func (m *Manager) Close(id string) error {
	s := m.remove(id)
	if s == nil {
		return ErrNotFound
	}
	s.Close()
	atomic.AddInt64(&m.opts.Metrics.SessionsActive, -1)
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown 은 reaper 를 멈추고 모든 세션을 닫는다.
// 각 세션의 연결 loop 가 끝난 뒤에 반환한다 (Session.Close 참고).
func (m *Manager) Shutdown() {
	m.stopOnce.Do(m.cancel)
	m.wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		_ = m.Close(id)
	}
	zlog.Info().Int("sessions", len(ids)).Msg("session manager stopped")
}

func (m *Manager) remove(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	return s
}

func (m *Manager) reapLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

// reap 은 SessionIdleTTL 을 넘긴 세션을 닫는다.
func (m *Manager) reap() {
	now := m.now()

	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		if s.idleFor(now) > m.cfg.SessionIdleTTL {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	for _, id := range idle {
		if m.Close(id) == nil {
			atomic.AddInt64(&m.opts.Metrics.SessionsReapedTotal, 1)
			zlog.Info().Str("session", id).Msg("idle session reaped")
		}
	}
}
