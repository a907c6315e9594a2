package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"event-attach/internal/config"
	"event-attach/internal/logger"
	"event-attach/internal/metrics"
	"event-attach/internal/server"
	"event-attach/internal/session"
	"event-attach/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	zlog "github.com/rs/zerolog/log"
)

func main() {

	// ====================================================================
	// GOMAXPROCS
	// ====================================================================
	//
	// Fargate 는 vCPU 단위로 CPU share 를 제한하는데 Go 런타임은 호스트 코어 수를
	// 그대로 본다. 세션마다 goroutine 몇 개뿐인 서비스라 기본값 1 로 충분하고,
	// Task 별로 GOMAXPROCS 환경변수로 바꿀 수 있다.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	} else {
		runtime.GOMAXPROCS(1)
	}

	// ====================================================================
	// Config / Logger / Metrics
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)

	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := m.Register(reg); err != nil {
		zlog.Fatal().Err(err).Msg("register metrics")
	}

	// ====================================================================
	// Store 파이프라인 (backend + spool + dispatcher)
	// ====================================================================
	//
	// submit 된 첨부는 Dispatcher 큐를 거쳐 backend 로 간다.
	// backend 실패분은 SPOOL_DIR 에 남았다가 한가할 때 재전송된다.
	// ====================================================================
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	dispatcher, err := store.Open(initCtx, cfg, m)
	cancelInit()
	if err != nil {
		zlog.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("open store")
	}
	dispatcher.Start()

	// ====================================================================
	// Session manager
	// ====================================================================
	sessions := session.NewManager(cfg, session.Options{
		Stream:  session.StreamOptions(cfg),
		Sink:    dispatcher,
		Metrics: m,
	})
	sessions.Start()

	// ====================================================================
	// HTTP
	// ====================================================================
	//
	// WriteTimeout 은 짧게 둔다. 응답은 모두 작은 JSON 이고,
	// 긴 작업(watch)은 요청이 아니라 세션 goroutine 에서 돈다.
	// ====================================================================
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.NewHandler(sessions, reg).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       8 * time.Second,
		WriteTimeout:      8 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// ====================================================================
	// Graceful shutdown
	// ====================================================================
	//
	// SIGTERM/SIGINT 수신 시:
	//   1) HTTP 서버 종료 (새 요청 차단)
	//   2) 모든 세션 종료 (열린 watch 연결 정리)
	//   3) Dispatcher 종료 (큐에 남은 첨부 전송)
	// ====================================================================
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh
		zlog.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			zlog.Error().Err(err).Msg("http shutdown")
		}
		sessions.Shutdown()
		if err := dispatcher.Shutdown(ctx); err != nil {
			zlog.Error().Err(err).Msg("dispatcher shutdown")
		}
	}()

	zlog.Info().
		Str("addr", cfg.HTTPAddr).
		Str("backend", cfg.StoreBackend).
		Msg("event-attach server listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zlog.Fatal().Err(err).Msg("http server terminated")
	}

	<-done
	zlog.Info().Msg("shutdown complete")
}
