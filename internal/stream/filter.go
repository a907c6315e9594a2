package stream

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ErrIncompleteFilter 는 kind / name / namespace 중 하나라도 비어있을 때 반환된다.
// 이 경우 연결은 Idle 로 남고 네트워크 요청을 하지 않는다.
var ErrIncompleteFilter = errors.New("stream: kind, name and namespace are required")

// Filter
// ------------------------------------------------------------
// watch 대상 리소스 식별자.
// UID 는 opaque identity token 으로, 있으면 fieldSelector 에 포함한다.
type Filter struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	UID       string `json:"uid,omitempty"`
}

// Complete 는 연결에 필요한 세 식별자가 모두 있는지 확인한다.
func (f Filter) Complete() bool {
	return f.Kind != "" && f.Name != "" && f.Namespace != ""
}

// FeedURL
// ------------------------------------------------------------
// namespace 의 events 를 involvedObject 로 필터링하는 watch URL 을 만든다.
//
//	<base>/api/v1/namespaces/<ns>/events
//	  ?fieldSelector=involvedObject.kind=<K>,involvedObject.name=<N>,involvedObject.uid=<U>
//	  &watch=true
//
// http/https base 는 ws/wss 로 바꾼다.
func FeedURL(base string, f Filter) (string, error) {
	if !f.Complete() {
		return "", ErrIncompleteFilter
	}

	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("stream: parse base url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("stream: unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("stream: base url %q has no host", base)
	}

	u.Path = path.Join("/", u.Path, "api/v1/namespaces", f.Namespace, "events")

	selector := []string{
		"involvedObject.kind=" + f.Kind,
		"involvedObject.name=" + f.Name,
	}
	if f.UID != "" {
		selector = append(selector, "involvedObject.uid="+f.UID)
	}

	q := url.Values{}
	q.Set("fieldSelector", strings.Join(selector, ","))
	q.Set("watch", "true")
	u.RawQuery = q.Encode()

	return u.String(), nil
}
