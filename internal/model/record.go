// internal/model/record.go
package model

// ChangeType 는 watch 프레임의 "type" 값이다.
type ChangeType string

const (
	Added    ChangeType = "ADDED"
	Modified ChangeType = "MODIFIED"
	Deleted  ChangeType = "DELETED"
	Bookmark ChangeType = "BOOKMARK"
	Error    ChangeType = "ERROR"
)

// EventRecord
// ------------------------------------------------------------
// upstream event feed 로부터 받은 단일 이벤트 오브젝트.
// kind / metadata / reason / message / firstTimestamp / lastTimestamp /
// count / involvedObject 외에도 upstream 이 보낸 모든 필드를 그대로 보존한다.
//
// Buffer 에 append 된 이후에는 절대 수정하지 않는다.
// (noisy 필드 제거는 append 전에 Ingestor 가 끝낸다)
type EventRecord map[string]any

// Frame
// ------------------------------------------------------------
// watch 스트림으로 들어오는 메시지 1개.
//
//	{"type":"ADDED","object":{...}}
type Frame struct {
	Type   ChangeType  `json:"type"`
	Object EventRecord `json:"object"`
}

// Metadata 는 object.metadata 를 반환한다. 없거나 타입이 다르면 nil.
func (r EventRecord) Metadata() map[string]any {
	m, _ := r["metadata"].(map[string]any)
	return m
}

func (r EventRecord) Name() string      { return str(r.Metadata(), "name") }
func (r EventRecord) Namespace() string { return str(r.Metadata(), "namespace") }
func (r EventRecord) Reason() string    { return str(r, "reason") }

// LastTimestamp 는 lastTimestamp 를 원문 문자열 그대로 반환한다.
// events.k8s.io 형식처럼 비어있으면 eventTime 으로 대체한다.
func (r EventRecord) LastTimestamp() string {
	if ts := str(r, "lastTimestamp"); ts != "" {
		return ts
	}
	return str(r, "eventTime")
}

// Count 는 count 필드를 int 로 반환한다. JSON 디코딩 결과(float64)를 가정.
func (r EventRecord) Count() int {
	switch v := r["count"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
