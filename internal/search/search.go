// Package search indexes document metadata for the portal's filter bar.
// Meilisearch serves queries when configured and healthy; Postgres
// full-text search is the always-available fallback.
package search

// DocumentRecord is the indexed shape of a document.
type DocumentRecord struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags"`
	UploadedBy string   `json:"uploadedBy"`
	CompanyID  string   `json:"companyId,omitempty"`
	VisibleTo  []string `json:"visibleTo"`
}

// Query carries the search text plus the caller's identity for visibility
// filtering.
type Query struct {
	Text      string
	Category  string
	Tag       string
	UserID    string
	CompanyID string
	Limit     int
	Offset    int
}

type Result struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Snippet  string `json:"snippet,omitempty"`
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
