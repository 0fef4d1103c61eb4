// Package qr encodes and parses the payload printed on a document's QR code.
// Rendering the image is left to the caller.
package qr

import (
	"context"
	"strings"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
	"github.com/lovepreet-singh-virdi/PapDocAuth-X/pkg/worm"
)

const Scheme = "docauth://"

type Payload struct {
	DocID              string `json:"docId"`
	VersionFingerprint string `json:"versionFingerprint"`
	Raw                string `json:"payload"`
}

func Encode(docID, versionFingerprint string) string {
	return Scheme + docID + "/" + versionFingerprint
}

// Parse splits a payload on its last slash so document ids may not contain one.
func Parse(s string) (Payload, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), Scheme)
	if !ok {
		return Payload{}, models.NewValidationError("payload", "must start with "+Scheme)
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 {
		return Payload{}, models.NewValidationError("payload", "missing document id")
	}
	docID, fp := rest[:i], rest[i+1:]
	if strings.Contains(docID, "/") {
		return Payload{}, models.NewValidationError("payload", "document id must not contain '/'")
	}
	if !worm.IsHexDigest(fp) {
		return Payload{}, models.NewValidationError("payload", "version fingerprint must be 64 lowercase hex characters")
	}
	return Payload{DocID: docID, VersionFingerprint: fp, Raw: Encode(docID, fp)}, nil
}

type VersionReader interface {
	GetVersion(ctx context.Context, docID string, n int) (*models.DocumentVersion, error)
}

// ForLatest builds the payload of a document's current version.
func ForLatest(ctx context.Context, versions VersionReader, docID string) (Payload, error) {
	v, err := versions.GetVersion(ctx, docID, 0)
	if err != nil {
		return Payload{}, err
	}
	return Payload{DocID: v.DocID, VersionFingerprint: v.VersionFingerprint, Raw: Encode(v.DocID, v.VersionFingerprint)}, nil
}
