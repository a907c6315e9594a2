// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backend 이름
const (
	BackendS3     = "s3"
	BackendNATS   = "nats"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Config
//
// 서비스 실행 시 필요한 모든 환경 변수 값을 보관하는 구조체.
// 프로세스 시작 시점에 Load() 로 한 번 초기화되고 이후에는 read-only 이다.
type Config struct {

	// ---------------------------
	// 서버 식별자 / 네트워크 / 로그
	// ---------------------------

	ServiceName string // 로그 공통 필드 "service"
	InstanceID  string // 프로세스 고유 ID (호스트명 기반, 실패 시 랜덤 hex)
	HTTPAddr    string // HTTP 서버 bind 주소 (예: ":8080")

	LogLevel   string // debug / info / warn / error
	LogPretty  bool   // true 면 사람이 읽는 콘솔 포맷
	LogSampleN uint32 // Debug/Info 샘플링 (N 개 중 1개만 기록)

	// ---------------------------
	// upstream event feed (watch)
	// ---------------------------

	FeedBaseURL          string        // 예: https://console.example.com/api/kubernetes
	FeedToken            string        // 있으면 Authorization: Bearer 로 전달
	FeedHandshakeTimeout time.Duration // WebSocket handshake timeout
	FeedReadLimit        int64         // 프레임 1개 최대 바이트
	NoDataTimeout        time.Duration // 첫 프레임 대기 시간. 초과 시 "이벤트 없음" 으로 간주

	// ---------------------------
	// 세션
	// ---------------------------

	MaxSessions    int           // 동시에 살아있는 세션 수 상한
	SessionIdleTTL time.Duration // 아무도 조회하지 않는 세션을 닫기까지의 시간

	// ---------------------------
	// destination store
	// ---------------------------

	StoreBackend  string        // s3 / nats / redis / memory
	StorePrefix   string        // key prefix (예: attachments)
	StoreTimeout  time.Duration // Put 1회 시도당 timeout
	StoreRetries  int           // 애플리케이션 레벨 재시도 횟수 (SDK retry 는 0)
	DispatchQueue int           // Dispatcher 큐 크기

	AWSRegion string
	S3Bucket  string

	NATSURL     string
	NATSSubject string

	RedisURL string
	RedisTTL time.Duration

	// ---------------------------
	// 로컬 spool (store 전달 실패분 보관)
	// ---------------------------

	SpoolDir          string
	SpoolMaxAge       time.Duration
	SpoolMaxSizeBytes int64
}

// Load
//
// 환경 변수 기반으로 Config 를 초기화한다.
// 필수 값이 없거나 형식이 잘못되면 즉시 프로세스를 종료한다(fail-fast).
func Load() Config {
	cfg, err := LoadFrom(os.Getenv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

// LoadFrom 은 getenv 로 값을 읽어 Config 를 만든다.
// CLI 에서는 viper lookup 을, 테스트에서는 map 을 넘긴다.
func LoadFrom(getenv func(string) string) (Config, error) {
	l := &loader{getenv: getenv}

	cfg := Config{
		ServiceName: l.str("SERVICE_NAME", "event-attach"),
		InstanceID:  l.str("INSTANCE_ID", ""),
		HTTPAddr:    l.str("HTTP_ADDR", ":8080"),

		LogLevel:   l.str("LOG_LEVEL", "info"),
		LogPretty:  l.boolean("LOG_PRETTY", false),
		LogSampleN: uint32(l.integer("LOG_SAMPLE_N", 0)),

		FeedBaseURL:          l.must("FEED_BASE_URL"),
		FeedToken:            l.str("FEED_TOKEN", ""),
		FeedHandshakeTimeout: l.dur("FEED_HANDSHAKE_TIMEOUT", 10*time.Second),
		FeedReadLimit:        l.int64("FEED_READ_LIMIT", 1<<20),
		NoDataTimeout:        l.dur("NO_DATA_TIMEOUT", 10*time.Second),

		MaxSessions:    l.integer("MAX_SESSIONS", 256),
		SessionIdleTTL: l.dur("SESSION_IDLE_TTL", 5*time.Minute),

		StoreBackend:  strings.ToLower(l.str("STORE_BACKEND", BackendMemory)),
		StorePrefix:   l.str("STORE_PREFIX", "attachments"),
		StoreTimeout:  l.dur("STORE_TIMEOUT", 5*time.Second),
		StoreRetries:  l.integer("STORE_RETRIES", 3),
		DispatchQueue: l.integer("DISPATCH_QUEUE", 64),

		AWSRegion: l.str("AWS_REGION", ""),
		S3Bucket:  l.str("S3_BUCKET", ""),

		NATSURL:     l.str("NATS_URL", ""),
		NATSSubject: l.str("NATS_SUBJECT", "attachments.events"),

		RedisURL: l.str("REDIS_URL", ""),
		RedisTTL: l.dur("REDIS_TTL", 24*time.Hour),

		SpoolDir:          l.str("SPOOL_DIR", ""),
		SpoolMaxAge:       l.dur("SPOOL_MAX_AGE", 24*time.Hour),
		SpoolMaxSizeBytes: l.int64("SPOOL_MAX_SIZE_BYTES", 64<<20),
	}

	if l.err != nil {
		return Config{}, l.err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = fallbackInstanceID()
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate 는 backend 별 필수 값과 범위를 검사한다.
func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendS3:
		if c.S3Bucket == "" || c.AWSRegion == "" {
			return errors.New("STORE_BACKEND=s3 requires S3_BUCKET and AWS_REGION")
		}
	case BackendNATS:
		if c.NATSURL == "" {
			return errors.New("STORE_BACKEND=nats requires NATS_URL")
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return errors.New("STORE_BACKEND=redis requires REDIS_URL")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.NoDataTimeout <= 0 {
		return fmt.Errorf("NO_DATA_TIMEOUT must be positive, got %s", c.NoDataTimeout)
	}
	if c.MaxSessions <= 0 {
		return fmt.Errorf("MAX_SESSIONS must be positive, got %d", c.MaxSessions)
	}
	if c.DispatchQueue <= 0 {
		return fmt.Errorf("DISPATCH_QUEUE must be positive, got %d", c.DispatchQueue)
	}
	if c.StoreRetries < 1 {
		return fmt.Errorf("STORE_RETRIES must be at least 1, got %d", c.StoreRetries)
	}
	return nil
}

// loader
//
// must / integer / dur ... 공통 패턴.
// 첫 번째 에러만 기억하고 이후 호출은 기본값을 돌려준다.
type loader struct {
	getenv func(string) string
	err    error
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}

func (l *loader) must(key string) string {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		l.fail(fmt.Errorf("missing required env: %s", key))
	}
	return v
}

func (l *loader) str(key, def string) string {
	if v := strings.TrimSpace(l.getenv(key)); v != "" {
		return v
	}
	return def
}

func (l *loader) integer(key string, def int) int {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(fmt.Errorf("invalid int env %s=%q: %w", key, v, err))
		return def
	}
	return n
}

func (l *loader) int64(key string, def int64) int64 {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		l.fail(fmt.Errorf("invalid int64 env %s=%q: %w", key, v, err))
		return def
	}
	return n
}

func (l *loader) dur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(fmt.Errorf("invalid duration env %s=%q: %w", key, v, err))
		return def
	}
	return d
}

func (l *loader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(l.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(fmt.Errorf("invalid bool env %s=%q: %w", key, v, err))
		return def
	}
	return b
}

// fallbackInstanceID
//
// 인스턴스 식별 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
