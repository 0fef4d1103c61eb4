package models

// StoreCapabilities is what a backing store reports at startup so the version
// store can pick its creation strategy.
type StoreCapabilities struct {
	// Transactions is true when the store can lock a document for the whole
	// read-compute-write of a version append.
	Transactions bool
}

// VersionCommit is everything persisted for one upload.
type VersionCommit struct {
	// Document is the post-append state: CurrentVersion bumped and the new
	// fingerprint appended.
	Document *Document
	Version  *DocumentVersion
	Parts    *HashParts
	// Created is true when this commit creates the document.
	Created bool
}

// VersionBuildFunc derives a commit from the current document (nil when the
// document does not exist yet) and its latest version (nil for a new document).
type VersionBuildFunc func(doc *Document, prev *DocumentVersion) (*VersionCommit, error)

// AuditBuildFunc derives the next audit entry from the scope head (nil for an
// empty scope).
type AuditBuildFunc func(prev *AuditLogEntry) (*AuditLogEntry, error)
