package ingest

import (
	"sync"

	"event-attach/internal/model"
)

// Buffer
// ------------------------------------------------------------
// 세션 하나가 소유하는 append-only 레코드 시퀀스.
// 삽입 순서 = 도착 순서 (lastTimestamp 순서와 다를 수 있다).
//
// writer 는 Ingestor 하나, reader 는 WindowSelector / 상태 조회 등 여럿.
// Freeze 이후의 Append 는 무시되므로 연결을 닫은 뒤 길이는 더 이상 변하지 않는다.
type Buffer struct {
	mu      sync.RWMutex
	records []model.EventRecord
	frozen  bool
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append 는 레코드를 끝에 추가한다. 이미 Freeze 된 경우 false.
func (b *Buffer) Append(r model.EventRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frozen {
		return false
	}
	b.records = append(b.records, r)
	return true
}

// Freeze 는 버퍼를 고정한다. 멱등.
func (b *Buffer) Freeze() {
	b.mu.Lock()
	b.frozen = true
	b.mu.Unlock()
}

func (b *Buffer) Frozen() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frozen
}

func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Snapshot 은 현재 시점의 레코드 목록을 복사해 반환한다.
// 레코드 자체는 불변이므로 slice 만 복사한다.
func (b *Buffer) Snapshot() []model.EventRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.EventRecord, len(b.records))
	copy(out, b.records)
	return out
}
