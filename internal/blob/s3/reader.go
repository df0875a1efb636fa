package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/quantfall/otcdesk/internal/domain"
)

// Reader implements domain.ArchiveReader over the snapshots the Archiver
// writes under archive/<kind>/<YYYY-MM>.jsonl.
type Reader struct {
	client *s3.Client
	bucket string
}

// NewReader creates a Reader over the given client's configured bucket.
func NewReader(c *Client) *Reader {
	return &Reader{
		client: c.S3(),
		bucket: c.Bucket(),
	}
}

// ListSnapshots returns the archived months for the given kind ("trades" or
// "offers"), newest key layout first as S3 returns them lexicographically.
// Objects under the prefix that do not follow the snapshot naming are skipped.
func (r *Reader) ListSnapshots(ctx context.Context, kind string) ([]domain.ArchiveSnapshot, error) {
	prefix := fmt.Sprintf("archive/%s/", kind)
	snapshots := []domain.ArchiveSnapshot{}

	paginator := s3.NewListObjectsV2Paginator(r.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list snapshots %s: %w", kind, err)
		}

		for _, obj := range page.Contents {
			month, ok := snapshotMonth(aws.ToString(obj.Key), prefix)
			if !ok {
				continue
			}
			snap := domain.ArchiveSnapshot{
				Kind:  kind,
				Month: month,
				Size:  aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				snap.LastModified = *obj.LastModified
			}
			snapshots = append(snapshots, snap)
		}
	}

	return snapshots, nil
}

// OpenSnapshot streams the JSONL snapshot for the given kind and month
// ("2026-08"). The caller must close the returned reader. Returns
// domain.ErrNotFound when no snapshot exists for that month.
func (r *Reader) OpenSnapshot(ctx context.Context, kind, month string) (io.ReadCloser, error) {
	cutoff, err := time.Parse("2006-01", month)
	if err != nil {
		return nil, domain.Errorf(domain.ErrValidation, domain.CodeInvalidConfig,
			"month %q must be formatted YYYY-MM", month)
	}

	key := archivePath(kind, cutoff)
	output, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: snapshot %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: snapshot %s: %w", key, err)
	}
	return output.Body, nil
}

// snapshotMonth extracts the YYYY-MM month from a snapshot key, reporting
// false for keys that are not monthly snapshots.
func snapshotMonth(key, prefix string) (string, bool) {
	name, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return "", false
	}
	month, ok := strings.CutSuffix(name, ".jsonl")
	if !ok || strings.Contains(month, "/") {
		return "", false
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		return "", false
	}
	return month, true
}

// isNotFound reports whether the error indicates a missing S3 object. GetObject
// returns the typed NoSuchKey; some S3-compatible providers only surface a
// generic 404 response.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}

	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) && httpErr.HTTPStatusCode() == 404 {
		return true
	}

	return false
}
