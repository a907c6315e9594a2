package window

import "event-attach/internal/model"

// DefaultSize 는 사용자가 크기를 정하지 않았을 때의 window 크기이다.
const DefaultSize = 10

// Request 는 사용자가 요청한 window 크기. Size 가 nil 이면 기본값을 쓴다.
type Request struct {
	Size *int `json:"size"`
}

// Sized 는 Size 가 n 인 Request 를 만든다.
func Sized(n int) Request {
	return Request{Size: &n}
}

// EffectiveSize
// ------------------------------------------------------------
//   - Size 미지정: min(bufferLen, DefaultSize)
//   - Size 지정:   clamp(Size, 1, bufferLen)
//   - bufferLen == 0 이면 항상 0 (export 불가)
func EffectiveSize(bufferLen int, req Request) int {
	if bufferLen <= 0 {
		return 0
	}
	if req.Size == nil {
		return min(bufferLen, DefaultSize)
	}
	return max(1, min(*req.Size, bufferLen))
}

// Select 는 records 의 마지막 EffectiveSize 개를 저장 순서 그대로 반환한다.
// timestamp 로 재정렬하지 않는다.
//
// 결과는 호출 시점의 records 기준이다. streaming 중에 얻은 결과는 참고용이며
// export 시점에는 다시 Select 해야 한다.
func Select(records []model.EventRecord, req Request) []model.EventRecord {
	n := EffectiveSize(len(records), req)
	out := make([]model.EventRecord, n)
	copy(out, records[len(records)-n:])
	return out
}
