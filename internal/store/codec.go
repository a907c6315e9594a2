package store

import (
	"bytes"
	"fmt"
	"io"

	"event-attach/internal/model"
	"event-attach/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// EncodePayload
// ------------------------------------------------------------
// AttachmentPayload 를 JSON → gzip 으로 직렬화한다.
// backend 에 그대로 Put 되고, 실패하면 같은 바이트가 spool 에 저장된다.
//
// gzip.Writer 와 결과 버퍼는 pool 에서 가져오며,
// 반환값은 caller 가 소유하는 새 slice 이다.
func EncodePayload(p *model.AttachmentPayload) ([]byte, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)
	defer pool.GzipPool.Put(gz)

	if err := json.NewEncoder(gz).Encode(p); err != nil {
		_ = gz.Close()
		return nil, fmt.Errorf("store: encode payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("store: gzip payload: %w", err)
	}

	// pool 버퍼는 재사용되므로 복사해서 넘긴다.
	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}

// DecodePayload 는 EncodePayload 의 역이다. spool 재전송 전 검증에 쓴다.
func DecodePayload(body []byte) (*model.AttachmentPayload, error) {
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("store: open gzip: %w", err)
	}
	defer gz.Close()

	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("store: read gzip: %w", err)
	}

	var p model.AttachmentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("store: decode payload: %w", err)
	}
	if p.Type == "" {
		return nil, fmt.Errorf("store: payload has no type")
	}
	return &p, nil
}
