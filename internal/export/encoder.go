package export

import (
	"bytes"
	"fmt"
	"strings"

	"event-attach/internal/model"
	"event-attach/internal/pool"

	"gopkg.in/yaml.v3"
)

// Target 는 첨부 대상 리소스이다.
type Target struct {
	Kind      string
	Name      string
	Namespace string
}

// Encode
// ------------------------------------------------------------
// 선택된 레코드들을 YAML 텍스트로 직렬화해 AttachmentPayload 를 만든다.
//
//   - map key 정렬 + 2칸 들여쓰기 → 같은 입력이면 항상 같은 텍스트
//   - 줄바꿈(line wrapping) 없음: 긴 message 가 접히면 downstream 에서 의미가 깨진다
//   - 결과 텍스트의 앞뒤 공백 제거
//   - metadata.owner 는 kind 와 상관없이 리소스 이름, lines 는 레코드 수
//
// 순수 함수이다. 네트워크/상태 부작용 없음.
// JSON 에서 디코딩된 레코드라면 실패하지 않는다.
func Encode(selection []model.EventRecord, target Target) (*model.AttachmentPayload, error) {
	content, err := EncodeYAML(selection)
	if err != nil {
		return nil, err
	}

	return &model.AttachmentPayload{
		Type:      model.AttachmentEvents,
		Kind:      target.Kind,
		Name:      target.Name,
		Namespace: target.Namespace,
		Content:   content,
		Metadata: model.AttachmentMetadata{
			Owner: target.Name,
			Lines: len(selection),
		},
	}, nil
}

// EncodeYAML 은 Encode 의 텍스트 부분만 수행한다.
func EncodeYAML(selection []model.EventRecord) (string, error) {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)

	if selection == nil {
		selection = []model.EventRecord{}
	}
	if err := enc.Encode(selection); err != nil {
		return "", fmt.Errorf("export: encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("export: close yaml encoder: %w", err)
	}

	// pool 버퍼는 재사용되므로 string 으로 복사해서 넘긴다.
	return strings.TrimSpace(buf.String()), nil
}
