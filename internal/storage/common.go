package storage

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

type BlobMetadata struct {
	Key    string
	SHA256 string
	Size   int64
	Lines  int64
}

// PrepareBlob compresses and hashes an NDJSON snapshot of one ledger scope and
// derives its object key.
func PrepareBlob(raw []byte, scope models.Scope, at time.Time) ([]byte, BlobMetadata, error) {
	lines := int64(bytes.Count(raw, []byte{'\n'}))

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, BlobMetadata{}, fmt.Errorf("storage: gzip write: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, BlobMetadata{}, fmt.Errorf("storage: gzip close: %w", err)
	}

	compressed := buf.Bytes()
	sum := worm.Digest(compressed)

	// Key: ledger/<org>/<doc>/<YYYY>/<MM>/<DD>/<at>_<sha[:8]>.ndjson.gz
	key := fmt.Sprintf("ledger/%s/%s/%s/%s_%s.ndjson.gz",
		url.PathEscape(scope.OrgID),
		url.PathEscape(scope.DocID),
		at.UTC().Format("2006/01/02"),
		at.UTC().Format("20060102T150405.000Z"),
		sum[:8],
	)

	return compressed, BlobMetadata{
		Key:    key,
		SHA256: sum,
		Size:   int64(len(compressed)),
		Lines:  lines,
	}, nil
}

// DecompressBlob reads gzip compressed data from a reader.
func DecompressBlob(r io.Reader) ([]byte, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("storage: gzip reader: %w", err)
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
