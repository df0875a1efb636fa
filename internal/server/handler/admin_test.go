package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/otcdesk/internal/domain"
)

type fakeArchiveReader struct {
	snapshots []domain.ArchiveSnapshot
	body      string
	openErr   error

	gotKind  string
	gotMonth string
}

func (f *fakeArchiveReader) ListSnapshots(_ context.Context, kind string) ([]domain.ArchiveSnapshot, error) {
	f.gotKind = kind
	return f.snapshots, nil
}

func (f *fakeArchiveReader) OpenSnapshot(_ context.Context, kind, month string) (io.ReadCloser, error) {
	f.gotKind = kind
	f.gotMonth = month
	if f.openErr != nil {
		return nil, f.openErr
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func newArchiveMux(archive domain.ArchiveReader) *http.ServeMux {
	h := NewAdminHandler(nil, nil, nil, archive, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admin/archive/{kind}", h.ListArchiveSnapshots)
	mux.HandleFunc("GET /api/admin/archive/{kind}/{month}", h.DownloadArchiveSnapshot)
	return mux
}

func TestListArchiveSnapshots(t *testing.T) {
	archive := &fakeArchiveReader{snapshots: []domain.ArchiveSnapshot{
		{Kind: "trades", Month: "2026-07", Size: 2048, LastModified: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{Kind: "trades", Month: "2026-08", Size: 512},
	}}
	mux := newArchiveMux(archive)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archive/trades", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trades", archive.gotKind)

	var resp struct {
		Kind      string                   `json:"kind"`
		Snapshots []domain.ArchiveSnapshot `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "trades", resp.Kind)
	require.Len(t, resp.Snapshots, 2)
	assert.Equal(t, "2026-07", resp.Snapshots[0].Month)
	assert.Equal(t, int64(2048), resp.Snapshots[0].Size)
}

func TestListArchiveSnapshotsRejectsUnknownKind(t *testing.T) {
	mux := newArchiveMux(&fakeArchiveReader{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archive/positions", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveEndpointsWithoutColdStorage(t *testing.T) {
	mux := newArchiveMux(nil)

	for _, target := range []string{
		"/api/admin/archive/trades",
		"/api/admin/archive/trades/2026-08",
	} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestDownloadArchiveSnapshotStreamsJSONL(t *testing.T) {
	body := `{"trade_id":"a"}` + "\n" + `{"trade_id":"b"}` + "\n"
	archive := &fakeArchiveReader{body: body}
	mux := newArchiveMux(archive)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archive/offers/2026-08", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, body, rec.Body.String())
	assert.Equal(t, "offers", archive.gotKind)
	assert.Equal(t, "2026-08", archive.gotMonth)
}

func TestDownloadArchiveSnapshotMissingMonth(t *testing.T) {
	archive := &fakeArchiveReader{
		openErr: fmt.Errorf("s3blob: snapshot archive/trades/2001-01.jsonl: %w", domain.ErrNotFound),
	}
	mux := newArchiveMux(archive)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/archive/trades/2001-01", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
