package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// export(YAML) 와 store 전송(gzip JSON) 은 매번 수십~수백 KB 버퍼를 만든다.
// 세션이 많을 때 GC 부담을 줄이려고 버퍼와 gzip.Writer 를 재사용한다.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - YAML 텍스트 / gzip 결과를 담는 임시 버퍼
	//   - 초기 용량 64KB (이벤트 10~50개 정도)
	//   - MaxBufferCap 초과 버퍼는 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (생성 비용이 큼)
	//   - 첨부는 건수가 적으므로 DefaultCompression
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
			return w
		},
	}
)

// MaxBufferCap 보다 큰 버퍼는 풀에 되돌리지 않고 GC 에 맡긴다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// PutBuffer:
//   - MaxBufferCap 이하이면 Reset 후 풀에 반환
//   - 초대형 버퍼는 버린다 (메모리 상주 방지)
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
