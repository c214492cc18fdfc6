package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/botledger/internal/domain"
	"github.com/alanyoungcy/botledger/internal/store/memory"
)

type memBucket struct {
	objects map[string][]byte
	failPut error
}

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}}
}

func (b *memBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if b.failPut != nil {
		return b.failPut
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.objects[path] = raw
	return nil
}

func (b *memBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, ndjson)
}

func (b *memBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	raw, ok := b.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *memBucket) List(context.Context, string) ([]domain.BlobInfo, error) {
	return nil, nil
}

func (b *memBucket) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

func decodeLines(t *testing.T, raw []byte) []domain.AuditEntry {
	t.Helper()
	var out []domain.AuditEntry
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var e domain.AuditEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

func newArchiver(t *testing.T) (*Archiver, *memBucket, domain.AuditStore) {
	t.Helper()
	bucket := newMemBucket()
	audit := memory.New().Audit()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(bucket, bucket, audit, logger), bucket, audit
}

func TestArchiveEvents_WritesOldestFirstAndRecordsRun(t *testing.T) {
	ctx := context.Background()
	a, bucket, audit := newArchiver(t)

	for _, name := range []string{"delegation_created", "position_opened", "position_closed"} {
		require.NoError(t, audit.Log(ctx, name, map[string]any{"n": name}))
	}
	before := time.Now().Add(time.Millisecond)

	n, err := a.ArchiveEvents(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	path := archivePath("events", before)
	require.Contains(t, bucket.objects, path)
	lines := decodeLines(t, bucket.objects[path])
	require.Len(t, lines, 3)
	assert.Equal(t, "delegation_created", lines[0].Event)
	assert.Equal(t, "position_closed", lines[2].Event)

	entries, err := audit.List(ctx, domain.ListOpts{Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ArchiveEvent, entries[0].Event)
	assert.Equal(t, path, entries[0].Detail["path"])
}

func TestArchiveEvents_ResumesAfterPreviousCutoff(t *testing.T) {
	ctx := context.Background()
	a, bucket, audit := newArchiver(t)

	require.NoError(t, audit.Log(ctx, "system_paused", nil))
	first := time.Now().Add(time.Millisecond)
	n, err := a.ArchiveEvents(ctx, first)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	n, err = a.ArchiveEvents(ctx, first)
	require.NoError(t, err)
	assert.Zero(t, n, "same cutoff archives nothing")

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, audit.Log(ctx, "system_resumed", nil))
	second := time.Now().Add(time.Millisecond)
	n, err = a.ArchiveEvents(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Both runs fall in the same month, so the second gets a distinct key.
	assert.Len(t, bucket.objects, 2)
	for path, raw := range bucket.objects {
		lines := decodeLines(t, raw)
		require.Len(t, lines, 1, path)
		assert.NotEqual(t, ArchiveEvent, lines[0].Event)
	}
}

func TestArchiveEvents_NothingToArchive(t *testing.T) {
	a, bucket, _ := newArchiver(t)
	n, err := a.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bucket.objects)
}

func TestArchiveEvents_UploadFailureRecordsNothing(t *testing.T) {
	ctx := context.Background()
	a, bucket, audit := newArchiver(t)
	bucket.failPut = errors.New("bucket offline")

	require.NoError(t, audit.Log(ctx, "delegation_revoked", nil))
	_, err := a.ArchiveEvents(ctx, time.Now().Add(time.Millisecond))
	require.Error(t, err)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "delegation_revoked", entries[0].Event)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://127.0.0.1:9000", normaliseEndpoint("127.0.0.1:9000", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
