package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"event-attach/internal/config"
	"event-attach/internal/metrics"

	json "github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
)

const metaSuffix = ".meta.json"

// spoolMeta 는 data 파일 옆 <file>.meta.json 의 내용이다.
type spoolMeta struct {
	Key     string `json:"key"`
	Records int    `json:"records"`
}

// PutFunc 는 spool 재전송에 쓰는 1건 전송 함수이다 (Dispatcher.deliver).
type PutFunc func(ctx context.Context, key string, body []byte) error

// Spool
// ------------------------------------------------------------
// backend Put 이 끝내 실패한 첨부를 로컬 디스크에 보관하고,
// Dispatcher 가 한가할 때 오래된 것부터 다시 보낸다.
//
//   - data:  <unix>_<instance>_<counter>.json.gz (EncodePayload 결과 그대로)
//   - meta:  같은 이름 + .meta.json, 원래 backend key 를 기록
//
// TTL 은 파일명 prefix 의 Unix timestamp 로 판단한다.
// Save 와 ProcessOne 은 Dispatcher loop 한 곳에서만 호출된다.
type Spool struct {
	dir        string
	instanceID string
	maxAge     time.Duration
	maxSize    int64
	metrics    *metrics.Metrics
	now        func() time.Time

	// 현재 spool 디렉토리의 data 파일 총 바이트 수
	sizeBytes int64
}

// NewSpool 은 디렉토리를 만들고 기존 파일을 스캔해 크기/개수를 복원한다.
// data 없이 meta 만 남은 orphan 은 지운다.
func NewSpool(cfg config.Config, m *metrics.Metrics) (*Spool, error) {
	if err := os.MkdirAll(cfg.SpoolDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create spool dir: %w", err)
	}

	s := &Spool{
		dir:        cfg.SpoolDir,
		instanceID: cfg.InstanceID,
		maxAge:     cfg.SpoolMaxAge,
		maxSize:    cfg.SpoolMaxSizeBytes,
		metrics:    m,
		now:        time.Now,
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: scan spool dir: %w", err)
	}

	var total, count int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if strings.HasSuffix(name, metaSuffix) {
			dataName := strings.TrimSuffix(name, metaSuffix)
			if _, err := os.Stat(filepath.Join(s.dir, dataName)); os.IsNotExist(err) {
				_ = os.Remove(filepath.Join(s.dir, name))
			}
			continue
		}
		if info, err := e.Info(); err == nil {
			total += info.Size()
			count++
		}
	}

	atomic.StoreInt64(&s.sizeBytes, total)
	atomic.AddInt64(&m.SpoolSizeBytes, total)
	atomic.AddInt64(&m.SpoolFilesCurrent, count)

	return s, nil
}

// Save 는 전송 실패한 body 를 원래 key 와 함께 저장한다.
// 용량이 모자라면 오래된 파일부터 지우고, 그래도 안 되면 drop 한다.
func (s *Spool) Save(key string, body []byte, records int) error {
	if len(body) == 0 {
		return nil
	}

	size := int64(len(body))
	if !s.ensureCapacity(size) {
		zlog.Error().Str("key", key).Int64("bytes", size).Msg("spool full, dropping attachment")
		atomic.AddInt64(&s.metrics.SpoolDroppedTotal, 1)
		return nil
	}

	meta, err := json.Marshal(spoolMeta{Key: key, Records: records})
	if err != nil {
		return fmt.Errorf("store: encode spool meta: %w", err)
	}

	name := NewFilename(s.instanceID, s.now())
	dataPath := filepath.Join(s.dir, name)

	// meta 를 먼저 써야 data 만 있고 key 를 모르는 상태가 생기지 않는다.
	if err := os.WriteFile(dataPath+metaSuffix, meta, 0o600); err != nil {
		return fmt.Errorf("store: write spool meta: %w", err)
	}
	if err := os.WriteFile(dataPath, body, 0o600); err != nil {
		_ = os.Remove(dataPath + metaSuffix)
		return fmt.Errorf("store: write spool data: %w", err)
	}

	atomic.AddInt64(&s.sizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolSizeBytes, size)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, 1)
	atomic.AddInt64(&s.metrics.SpoolEnqueuedTotal, 1)
	return nil
}

// ensureCapacity 는 SpoolMaxSizeBytes 를 넘지 않도록 가장 오래된 파일부터 지운다.
func (s *Spool) ensureCapacity(incoming int64) bool {
	if s.maxSize <= 0 {
		return true
	}
	if incoming > s.maxSize {
		return false
	}

	for atomic.LoadInt64(&s.sizeBytes)+incoming > s.maxSize {
		oldest := s.pickOldest()
		if oldest == "" {
			return false
		}
		s.remove(oldest)
		atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
		zlog.Warn().Str("file", oldest).Msg("spool capacity, evicted oldest")
	}
	return true
}

// ProcessOne 은 가장 오래된 파일 1개를 put 으로 재전송한다.
// 다음 파일로 넘어가도 되면 true 를 반환한다.
// 재전송이 실패하면 backend 가 아직 죽어있다고 보고 false (파일은 남긴다).
func (s *Spool) ProcessOne(ctx context.Context, put PutFunc) bool {
	if ctx.Err() != nil {
		return false
	}

	name := s.pickOldest()
	if name == "" {
		return false
	}

	// TTL: 파일명 prefix 의 Unix timestamp 기준
	if s.maxAge > 0 {
		if sec, ok := extractUnixFromFilename(name); ok {
			age := time.Duration(s.now().Unix()-sec) * time.Second
			if age > s.maxAge {
				s.remove(name)
				atomic.AddInt64(&s.metrics.SpoolFilesExpiredTotal, 1)
				zlog.Info().Str("file", name).Dur("age", age).Msg("spool TTL expired")
				return true
			}
		}
	}

	dataPath := filepath.Join(s.dir, name)
	body, err := os.ReadFile(dataPath)
	if err != nil {
		zlog.Warn().Err(err).Str("file", name).Msg("spool read failed")
		s.remove(name)
		return true
	}

	meta, err := s.readMeta(name)
	if err != nil {
		zlog.Warn().Err(err).Str("file", name).Msg("spool meta unreadable, dropping")
		s.drop(name)
		return true
	}

	// gzip JSON 이 깨졌으면 다시 보내도 의미가 없다.
	if _, err := DecodePayload(body); err != nil {
		zlog.Warn().Err(err).Str("file", name).Msg("spool file invalid, dropping")
		s.drop(name)
		return true
	}

	if err := put(ctx, meta.Key, body); err != nil {
		zlog.Warn().Err(err).Str("key", meta.Key).Msg("spool replay failed")
		return false
	}

	s.remove(name)
	atomic.AddInt64(&s.metrics.SpoolReuploadedTotal, 1)
	zlog.Info().Str("key", meta.Key).Int("records", meta.Records).Msg("spool replay stored")
	return true
}

// Len 은 spool 에 남아있는 data 파일 수이다.
func (s *Spool) Len() int {
	return len(s.dataFiles())
}

func (s *Spool) readMeta(name string) (spoolMeta, error) {
	var meta spoolMeta
	raw, err := os.ReadFile(filepath.Join(s.dir, name+metaSuffix))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, err
	}
	if meta.Key == "" {
		return meta, errors.New("store: spool meta has no key")
	}
	return meta, nil
}

func (s *Spool) drop(name string) {
	s.remove(name)
	atomic.AddInt64(&s.metrics.SpoolDroppedTotal, 1)
}

// remove 는 data/meta 를 지우고 크기 gauge 를 되돌린다.
func (s *Spool) remove(name string) {
	dataPath := filepath.Join(s.dir, name)
	if info, err := os.Stat(dataPath); err == nil {
		atomic.AddInt64(&s.sizeBytes, -info.Size())
		atomic.AddInt64(&s.metrics.SpoolSizeBytes, -info.Size())
	}
	_ = os.Remove(dataPath)
	_ = os.Remove(dataPath + metaSuffix)
	atomic.AddInt64(&s.metrics.SpoolFilesCurrent, -1)
}

// pickOldest 는 파일명 정렬 기준 가장 오래된 data 파일을 반환한다.
// ReadDir 결과 순서에 기대지 않고 직접 정렬한다.
func (s *Spool) pickOldest() string {
	files := s.dataFiles()
	if len(files) == 0 {
		return ""
	}
	sort.Strings(files)
	return files[0]
}

func (s *Spool) dataFiles() []string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "" || name[0] == '.' || strings.HasSuffix(name, metaSuffix) {
			continue
		}
		files = append(files, name)
	}
	return files
}
