package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// ------------------------------------------------------------
// access log
//
// 서버는 ALB 또는 CloudFront 뒤에 배치되므로 RemoteAddr 는 대개 LB 주소이다.
// 로그에는 헤더에서 찾은 실제 클라이언트 IP 를 남긴다.
// ------------------------------------------------------------

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// health/metrics 는 scrape 마다 찍히므로 debug 로 내린다.
		ev := zlog.Info()
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			ev = zlog.Debug()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Str("ip", clientIP(r)).
			Msg("http request")
	})
}

// isPublicIP 는 private / loopback / link-local 이 아니면 true.
func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsLinkLocalUnicast() && !ip.IsLinkLocalMulticast()
}

func parseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

// clientIP 우선순위:
//  1. X-Forwarded-For 의 첫 번째 public IP
//  2. CloudFront-Viewer-Address (포트 제거)
//  3. RemoteAddr 의 host (private 이어도 그대로)
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := parseIP(part); isPublicIP(ip) {
				return ip.String()
			}
		}
	}

	if cf := r.Header.Get("CloudFront-Viewer-Address"); cf != "" {
		host := cf
		if i := strings.LastIndex(cf, ":"); i != -1 {
			host = cf[:i]
		}
		if ip := parseIP(host); isPublicIP(ip) {
			return ip.String()
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
