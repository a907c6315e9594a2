package store

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"event-attach/internal/model"
)

// keys.go
// ------------------------------------------------------------
// backend key 와 spool 파일명 규칙.
//
// 파일명:
//
//	<unix>_<instance>_<counter>.json.gz
//
// 예:
//
//	1764721594_attach1_000042.json.gz
//
// 문자열 정렬 = 시간 정렬이므로 spool 에서 가장 오래된 파일을 고를 때 쓴다.
//
// backend key:
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<namespace>/<name>/<filename>
var globalCounter uint64

const fileSuffix = ".json.gz"

// NextCounter 는 1,000,000 에서 0 으로 돌아가는 순번이다.
// timestamp·instance 와 조합되므로 충돌하지 않는다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

// NewFilename 은 <unix>_<instance>_<counter>.json.gz 를 만든다.
func NewFilename(instanceID string, now time.Time) string {
	return fmt.Sprintf("%d_%s_%06d%s", now.Unix(), instanceID, NextCounter(), fileSuffix)
}

// BuildKey 는 UTC 날짜/시간 파티션을 붙인 backend key 를 만든다.
func BuildKey(prefix string, now time.Time, p *model.AttachmentPayload, filename string) string {
	utc := now.UTC()
	return path.Join(
		prefix,
		"dt="+utc.Format("2006-01-02"),
		"hr="+utc.Format("15"),
		keySegment(p.Namespace),
		keySegment(p.Name),
		filename,
	)
}

// keySegment 는 key 경로를 깨뜨리는 문자를 치환한다.
func keySegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "..", "_").Replace(s)
}

// extractUnixFromFilename 은 파일명 prefix 의 Unix seconds 를 읽는다.
func extractUnixFromFilename(name string) (int64, bool) {
	idx := strings.IndexByte(name, '_')
	if idx <= 0 {
		return 0, false
	}
	sec, err := strconv.ParseInt(name[:idx], 10, 64)
	if err != nil || sec <= 0 {
		return 0, false
	}
	return sec, true
}
