package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"event-attach/internal/config"
	"event-attach/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSpool(t *testing.T, dir string, maxSize int64) (*Spool, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	s, err := NewSpool(config.Config{
		InstanceID:        "attach1",
		SpoolDir:          dir,
		SpoolMaxAge:       time.Hour,
		SpoolMaxSizeBytes: maxSize,
	}, m)
	require.NoError(t, err)
	return s, m
}

func encodedSample(t *testing.T) []byte {
	t.Helper()
	body, err := EncodePayload(samplePayload())
	require.NoError(t, err)
	return body
}

type putCall struct {
	key  string
	body []byte
}

func recordingPut(calls *[]putCall, err error) PutFunc {
	return func(ctx context.Context, key string, body []byte) error {
		*calls = append(*calls, putCall{key: key, body: body})
		return err
	}
}

func TestSpool_SaveAndReplay(t *testing.T) {
	s, m := newTestSpool(t, t.TempDir(), 0)
	body := encodedSample(t)

	require.NoError(t, s.Save("attachments/k1.json.gz", body, 1))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesCurrent))
	assert.Equal(t, int64(len(body)), atomic.LoadInt64(&m.SpoolSizeBytes))

	var calls []putCall
	assert.True(t, s.ProcessOne(context.Background(), recordingPut(&calls, nil)))
	require.Len(t, calls, 1)
	assert.Equal(t, "attachments/k1.json.gz", calls[0].key)
	assert.Equal(t, body, calls[0].body)

	assert.Zero(t, s.Len())
	assert.Zero(t, atomic.LoadInt64(&m.SpoolFilesCurrent))
	assert.Zero(t, atomic.LoadInt64(&m.SpoolSizeBytes))
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolReuploadedTotal))

	// 비었으면 아무것도 하지 않는다.
	assert.False(t, s.ProcessOne(context.Background(), recordingPut(&calls, nil)))
}

func TestSpool_ReplayFailureKeepsFile(t *testing.T) {
	s, _ := newTestSpool(t, t.TempDir(), 0)
	require.NoError(t, s.Save("k", encodedSample(t), 1))

	var calls []putCall
	assert.False(t, s.ProcessOne(context.Background(), recordingPut(&calls, errors.New("down"))))
	assert.Len(t, calls, 1)
	assert.Equal(t, 1, s.Len())
}

func TestSpool_ReplaysOldestFirst(t *testing.T) {
	s, _ := newTestSpool(t, t.TempDir(), 0)
	body := encodedSample(t)

	base := time.Now()
	s.now = func() time.Time { return base.Add(-2 * time.Minute) }
	require.NoError(t, s.Save("old", body, 1))
	s.now = func() time.Time { return base.Add(-time.Minute) }
	require.NoError(t, s.Save("new", body, 1))
	s.now = func() time.Time { return base }

	var calls []putCall
	s.ProcessOne(context.Background(), recordingPut(&calls, nil))
	s.ProcessOne(context.Background(), recordingPut(&calls, nil))
	require.Len(t, calls, 2)
	assert.Equal(t, "old", calls[0].key)
	assert.Equal(t, "new", calls[1].key)
}

func TestSpool_ExpiresByFilenameTimestamp(t *testing.T) {
	s, m := newTestSpool(t, t.TempDir(), 0)

	now := time.Now()
	s.now = func() time.Time { return now.Add(-2 * time.Hour) }
	require.NoError(t, s.Save("k", encodedSample(t), 1))
	s.now = func() time.Time { return now }

	var calls []putCall
	assert.True(t, s.ProcessOne(context.Background(), recordingPut(&calls, nil)))
	assert.Empty(t, calls)
	assert.Zero(t, s.Len())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesExpiredTotal))
}

func TestSpool_DropsInvalidFiles(t *testing.T) {
	s, m := newTestSpool(t, t.TempDir(), 0)
	require.NoError(t, s.Save("k", []byte("definitely not gzip"), 1))

	var calls []putCall
	assert.True(t, s.ProcessOne(context.Background(), recordingPut(&calls, nil)))
	assert.Empty(t, calls)
	assert.Zero(t, s.Len())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolDroppedTotal))
}

func TestSpool_CapacityEvictsOldest(t *testing.T) {
	body := encodedSample(t)
	s, m := newTestSpool(t, t.TempDir(), int64(len(body))*2)

	base := time.Now()
	for i, key := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i-3) * time.Minute)
		s.now = func() time.Time { return at }
		require.NoError(t, s.Save(key, body, 1))
	}
	s.now = func() time.Time { return base }

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesExpiredTotal))

	var calls []putCall
	s.ProcessOne(context.Background(), recordingPut(&calls, nil))
	require.Len(t, calls, 1)
	assert.Equal(t, "b", calls[0].key)
}

func TestSpool_TooLargeIsDropped(t *testing.T) {
	body := encodedSample(t)
	s, m := newTestSpool(t, t.TempDir(), int64(len(body))-1)

	require.NoError(t, s.Save("k", body, 1))
	assert.Zero(t, s.Len())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolDroppedTotal))
}

func TestNewSpool_RestoresStateAndRemovesOrphans(t *testing.T) {
	dir := t.TempDir()
	body := encodedSample(t)

	first, _ := newTestSpool(t, dir, 0)
	require.NoError(t, first.Save("k", body, 1))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "123_x_000001.json.gz"+metaSuffix), []byte(`{"key":"orphan"}`), 0o600))

	second, m := newTestSpool(t, dir, 0)
	assert.Equal(t, 1, second.Len())
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.SpoolFilesCurrent))
	assert.Equal(t, int64(len(body)), atomic.LoadInt64(&m.SpoolSizeBytes))

	_, err := os.Stat(filepath.Join(dir, "123_x_000001.json.gz"+metaSuffix))
	assert.True(t, os.IsNotExist(err))
}
