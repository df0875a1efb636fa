package s3blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotMonthParsing(t *testing.T) {
	cases := []struct {
		key   string
		month string
		ok    bool
	}{
		{"archive/trades/2026-08.jsonl", "2026-08", true},
		{"archive/trades/2026-12.jsonl", "2026-12", true},
		{"archive/trades/2026-13.jsonl", "", false},
		{"archive/trades/notes.txt", "", false},
		{"archive/trades/sub/2026-08.jsonl", "", false},
		{"archive/offers/2026-08.jsonl", "", false}, // wrong prefix
	}
	for _, tc := range cases {
		month, ok := snapshotMonth(tc.key, "archive/trades/")
		assert.Equal(t, tc.ok, ok, tc.key)
		assert.Equal(t, tc.month, month, tc.key)
	}
}

func TestSnapshotMonthRoundTripsArchivePath(t *testing.T) {
	cutoff := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	key := archivePath("offers", cutoff)

	month, ok := snapshotMonth(key, "archive/offers/")
	assert.True(t, ok)
	assert.Equal(t, "2026-08", month)
}
