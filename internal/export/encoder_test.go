package export

import (
	"strings"
	"testing"

	"event-attach/internal/model"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var target = Target{Kind: "Pod", Name: "web-0", Namespace: "shop"}

func TestEncode_PayloadFields(t *testing.T) {
	sel := []model.EventRecord{
		{"reason": "Scheduled"},
		{"reason": "Pulled"},
		{"reason": "Started"},
	}

	p, err := Encode(sel, target)
	require.NoError(t, err)

	assert.Equal(t, model.AttachmentEvents, p.Type)
	assert.Equal(t, "Pod", p.Kind)
	assert.Equal(t, "web-0", p.Name)
	assert.Equal(t, "shop", p.Namespace)
	assert.Equal(t, model.AttachmentMetadata{Owner: "web-0", Lines: 3}, p.Metadata)
}

func TestEncodeYAML_SortedIndentedTrimmed(t *testing.T) {
	sel := []model.EventRecord{
		{
			"reason":   "Started",
			"kind":     "Event",
			"metadata": map[string]any{"namespace": "shop", "name": "web-0.1"},
		},
	}

	got, err := EncodeYAML(sel)
	require.NoError(t, err)

	want := strings.Join([]string{
		"- kind: Event",
		"  metadata:",
		"    name: web-0.1",
		"    namespace: shop",
		"  reason: Started",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestEncodeYAML_LongLinesAreNotWrapped(t *testing.T) {
	msg := strings.TrimSpace(strings.Repeat("Back-off restarting failed container ", 12))
	got, err := EncodeYAML([]model.EventRecord{{"message": msg}})
	require.NoError(t, err)

	assert.Equal(t, "- message: "+msg, got)
}

func TestEncodeYAML_Deterministic(t *testing.T) {
	var sel []model.EventRecord
	require.NoError(t, json.Unmarshal([]byte(`[
		{"kind":"Event","count":3,"involvedObject":{"kind":"Pod","name":"web-0","uid":"u"},"reason":"BackOff"},
		{"kind":"Event","count":1,"involvedObject":{"kind":"Pod","name":"web-0","uid":"u"},"reason":"Pulled"}
	]`), &sel))

	a, err := EncodeYAML(sel)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		b, err := EncodeYAML(sel)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}

	assert.Equal(t, a, strings.TrimSpace(a))
	assert.Contains(t, a, "count: 3")
}

func TestEncodeYAML_RoundTripsArrivalOrder(t *testing.T) {
	sel := []model.EventRecord{{"reason": "b"}, {"reason": "a"}, {"reason": "c"}}
	got, err := EncodeYAML(sel)
	require.NoError(t, err)

	var back []map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(got), &back))
	require.Len(t, back, 3)
	assert.Equal(t, "b", back[0]["reason"])
	assert.Equal(t, "a", back[1]["reason"])
	assert.Equal(t, "c", back[2]["reason"])
}

func TestEncodeYAML_Empty(t *testing.T) {
	got, err := EncodeYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
}
