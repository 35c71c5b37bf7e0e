package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CompanyID    string
	CreatedAt    time.Time
}

type Company struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Document is the canonical record for one uploaded file. The current
// content fields (ContentRef, SizeBytes, UploadedAt, Version) always
// describe the latest version; the full chain lives in document_versions.
type Document struct {
	ID         string
	Name       string
	ContentRef string
	MimeType   string
	SizeBytes  int64
	Category   string
	UploadedBy string
	UploadedAt time.Time
	CompanyID  string
	Reviewed   bool
	Version    int
	Metadata   map[string]string
	CreatedAt  time.Time
	DeletedAt  *time.Time
	Tags []string
	// Loaded by GetDocument, not by list queries
	VisibleTo []string
}

// VersionSnapshot is immutable once written. Reverting copies its fields
// onto the document; it never removes rows from the chain.
type VersionSnapshot struct {
	ID         string
	DocumentID string
	Version    int
	ContentRef string
	SizeBytes  int64
	UploadedBy string
	UploadedAt time.Time
	Changes    string
}

type Annotation struct {
	ID         string
	DocumentID string
	UserID     string
	UserName   string
	Content    string
	// Percentages of the rendered preview surface, 0-100
	PosX      float64
	PosY      float64
	CreatedAt time.Time
}

type Comment struct {
	ID         string
	DocumentID string
	UserID     string
	UserName   string
	Content    string
	CreatedAt  time.Time
}

// ActivityRecord is one append-only audit entry. Details holds the typed
// per-kind payload serialized as JSONB.
type ActivityRecord struct {
	ID         int64
	DocumentID string
	UserID     string
	UserName   string
	Activity   string
	Details    map[string]any
	CreatedAt  time.Time
}
