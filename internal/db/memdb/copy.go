package memdb

import (
	"maps"
	"strconv"

	"github.com/lovepreet-singh-virdi/PapDocAuth-X/internal/models"
)

func versionID(docID string, n int) string {
	return docID + "@v" + strconv.Itoa(n)
}

func copyDocument(d *models.Document) *models.Document {
	cp := *d
	cp.Metadata = maps.Clone(d.Metadata)
	cp.VersionFingerprints = append([]string(nil), d.VersionFingerprints...)
	return &cp
}

func copyVersion(v *models.DocumentVersion) *models.DocumentVersion {
	cp := *v
	cp.PrevVersionFingerprint = copyPtr(v.PrevVersionFingerprint)
	cp.RevokedBy = copyPtr(v.RevokedBy)
	cp.RevocationReason = copyPtr(v.RevocationReason)
	cp.RevokedAt = copyPtr(v.RevokedAt)
	return &cp
}

func copyEntry(e *models.AuditLogEntry) *models.AuditLogEntry {
	cp := *e
	cp.PrevAuditHash = copyPtr(e.PrevAuditHash)
	return &cp
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
