package ingest

import (
	"event-attach/internal/model"
)

// NoisyMetadataField 는 저장 전에 object.metadata 에서 지우는 필드.
// 크기는 크고 진단 가치는 거의 없다.
const NoisyMetadataField = "managedFields"

// Result 는 Ingest 한 번의 결과 분류이다.
type Result int

const (
	Appended  Result = iota // ADDED → buffer 에 추가됨
	Discarded               // ADDED 가 아님
	Rejected                // ADDED 지만 buffer 가 이미 고정됨 (close 이후 도착)
)

// Ingestor
// ------------------------------------------------------------
// StreamConnection 이 넘겨준 프레임 중 생성(ADDED) 이벤트만 골라
// noisy 필드를 지우고 Buffer 에 순서대로 append 한다.
//
// 중복 제거, 재정렬, 크기 제한은 하지 않는다.
type Ingestor struct {
	buf *Buffer
}

func NewIngestor(buf *Buffer) *Ingestor {
	return &Ingestor{buf: buf}
}

// Ingest 는 프레임 1개를 처리한다.
// ADDED 이고 buffer 에 들어간 경우에만 (record, Appended) 를 반환한다.
func (i *Ingestor) Ingest(f model.Frame) (model.EventRecord, Result) {
	if f.Type != model.Added || f.Object == nil {
		return nil, Discarded
	}

	rec := clean(f.Object)
	if !i.buf.Append(rec) {
		return nil, Rejected
	}
	return rec, Appended
}

// clean 은 metadata.managedFields 를 제거한다.
// 프레임은 디코딩 직후라 다른 곳에서 참조하지 않으므로 제자리에서 지운다.
func clean(obj model.EventRecord) model.EventRecord {
	if md := obj.Metadata(); md != nil {
		delete(md, NoisyMetadataField)
	}
	return obj
}
