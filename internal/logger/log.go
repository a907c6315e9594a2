// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"event-attach/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 애플리케이션 시작 시 한 번만 호출되는 로거 초기화 함수.
//
//  1. 로그 포맷 전환:
//     - LOG_PRETTY=true: 콘솔 텍스트 (로컬 개발)
//     - LOG_PRETTY=false: JSON (수집기 검색/분석용)
//
//  2. 모든 로그에 "service", "instance" 필드를 붙인다.
//
//  3. Debug/Info 는 LOG_SAMPLE_N 에 따라 샘플링, Warn/Error 는 전부 기록.
//
// 사용 예:
//
//	logger.Init(cfg)
//	log.Info().Str("session", id).Msg("watch opened")
func Init(cfg config.Config) {
	zlog.Logger = New(cfg, os.Stdout)

	// 표준 log 패키지 출력도 zerolog 로 보낸다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// New 는 Init 과 같은 규칙으로 w 에 쓰는 logger 를 만든다.
// 전역 logger 는 건드리지 않는다.
func New(cfg config.Config, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil && l != zerolog.NoLevel {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
		}
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	if cfg.LogSampleN > 1 {
		// Warn/Error 샘플러는 nil → 샘플링하지 않음
		return base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}
	return base
}
