// internal/model/attachment.go
package model

// AttachmentType 은 대화에 첨부되는 컨텍스트 종류.
type AttachmentType string

const AttachmentEvents AttachmentType = "Events"

// AttachmentPayload
// ------------------------------------------------------------
// ExportEncoder 의 결과물. submit 시점에 한 번 만들어져
// destination store 로 넘어간 뒤에는 core 가 보관하지 않는다.
//
// Content 는 선택된 이벤트들을 YAML 로 직렬화한 텍스트(앞뒤 공백 제거)이다.
type AttachmentPayload struct {
	Type      AttachmentType     `json:"type"`
	Kind      string             `json:"kind"`
	Name      string             `json:"name"`
	Namespace string             `json:"namespace"`
	Content   string             `json:"content"`
	Metadata  AttachmentMetadata `json:"metadata"`
}

// AttachmentMetadata
//   - Owner: 항상 리소스 이름 (entity kind 와 무관)
//   - Lines: export 된 레코드 수 (effective window size)
type AttachmentMetadata struct {
	Owner string `json:"owner"`
	Lines int    `json:"lines"`
}
