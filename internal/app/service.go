package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"beacon/api/internal/auth"
	"beacon/api/internal/config"
	"beacon/api/internal/rbac"
	"beacon/api/internal/search"
	"beacon/api/internal/store"
	"beacon/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	CompanyID    string
	JTI          string
	ExpiresAt    time.Time
}

// UploadDocumentInput is the new-document path of upload intake. Content
// arrives fully buffered; the HTTP layer enforces the size limit.
type UploadDocumentInput struct {
	Name      string
	Category  string
	MimeType  string
	Content   []byte
	Metadata  map[string]string
	Tags      []string
	VisibleTo []string
	CompanyID string
}

// UploadVersionInput is the new-version path of upload intake.
type UploadVersionInput struct {
	Content []byte
	Notes   string
}

type AnnotationInput struct {
	Content string
	X       float64
	Y       float64
}

// Categories are a fixed set; upload intake rejects anything else.
var allowedCategories = map[string]struct{}{
	"Session Homework":   {},
	"Client Materials":   {},
	"Meeting Notes":      {},
	"Final Deliverables": {},
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	EnsureUser(context.Context, store.User) error
	EnsureCompany(context.Context, store.Company) error
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	ListVisibleDocuments(context.Context, string, string) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	CreateDocument(context.Context, store.Document, store.VersionSnapshot, store.ActivityRecord) error
	AddVersion(context.Context, store.VersionSnapshot, store.ActivityRecord) error
	ListVersions(context.Context, string) ([]store.VersionSnapshot, error)
	GetVersion(context.Context, string, string) (store.VersionSnapshot, error)
	RevertDocument(context.Context, store.VersionSnapshot, store.ActivityRecord) error
	SoftDeleteDocument(context.Context, string, store.ActivityRecord) error
	SetReviewed(context.Context, string, bool, store.ActivityRecord) error
	AddTag(context.Context, string, string, store.ActivityRecord) (bool, error)
	RemoveTag(context.Context, string, string, store.ActivityRecord) (bool, error)
	GrantVisibility(context.Context, string, string, string, store.ActivityRecord) (bool, error)
	RevokeVisibility(context.Context, string, string, store.ActivityRecord) (bool, error)
	InsertComment(context.Context, store.Comment, store.ActivityRecord) error
	ListComments(context.Context, string) ([]store.Comment, error)
	InsertAnnotation(context.Context, store.Annotation, store.ActivityRecord) error
	DeleteAnnotation(context.Context, string, string) (bool, error)
	ListAnnotations(context.Context, string) ([]store.Annotation, error)
	InsertActivity(context.Context, store.ActivityRecord) error
	ListActivity(context.Context, string) ([]store.ActivityRecord, error)
	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens. The Postgres store satisfies it as the
// fallback; Redis is preferred when configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// contentStore is the blob backend: store bytes, get back a ref.
type contentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DownloadURL(ctx context.Context, ref, filename string, expiry time.Duration) (string, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	blobs    contentStore
	search   *search.Service
}

func New(cfg config.Config, dataStore dataStore, blobs contentStore, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		blobs:    blobs,
		search:   searchService,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore dataStore, sessions sessionStore, blobs contentStore, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		blobs:    blobs,
		search:   searchService,
	}
}

// Bootstrap seeds the demo tenant and identities on an empty database and
// backfills the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	if _, err := s.store.GetUserByEmail(ctx, "admin@beacon.dev"); err == nil {
		if s.search != nil {
			s.search.ReindexAllFromPG(ctx)
		}
		return nil
	}

	if err := s.store.EnsureCompany(ctx, store.Company{ID: "co_horizon", Name: "Horizon Consulting"}); err != nil {
		return err
	}

	passwordHash, err := auth.HashPassword("beacon-dev")
	if err != nil {
		return err
	}

	seeds := []store.User{
		{ID: "usr_admin", DisplayName: "Ada Moreno", Email: "admin@beacon.dev", Role: "admin"},
		{ID: "usr_expert", DisplayName: "Noah Feld", Email: "expert@beacon.dev", Role: "expert"},
		{ID: "usr_employee", DisplayName: "Priya Nair", Email: "employee@beacon.dev", Role: "employee", CompanyID: "co_horizon"},
		{ID: "usr_client", DisplayName: "Sam Okafor", Email: "client@beacon.dev", Role: "client", CompanyID: "co_horizon"},
	}
	for _, seed := range seeds {
		seed.PasswordHash = passwordHash
		if err := s.store.EnsureUser(ctx, seed); err != nil {
			return err
		}
	}

	if s.search != nil {
		s.search.ReindexAllFromPG(ctx)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil || !auth.VerifyPassword(user.PasswordHash, password) {
		return Session{}, domainError(401, "INVALID_CREDENTIALS", "Invalid email or password", nil)
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	partial, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, partial.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:       user.ID,
		Name:      user.DisplayName,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		CompanyID:    user.CompanyID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ListDocuments resolves the caller's visible set: explicitly shared, own
// uploads, and company-wide documents, deduplicated by the store query.
// A fetch failure degrades to an empty list so the rest of the portal
// stays usable; the error is logged, not surfaced.
func (s *Service) ListDocuments(ctx context.Context, session Session) []map[string]any {
	documents, err := s.store.ListVisibleDocuments(ctx, session.UserID, session.CompanyID)
	if err != nil {
		log.Printf("registry: list documents for %s: %v", session.UserID, err)
		return []map[string]any{}
	}

	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentPayload(doc))
	}
	return items
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	payload := documentPayload(doc)
	payload["visibleTo"] = doc.VisibleTo
	return payload, nil
}

// visibleDocument loads a document and enforces per-document visibility.
// Callers without access get NOT_FOUND, never FORBIDDEN, so document IDs
// leak nothing.
func (s *Service) visibleDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Document{}, notFoundError("Document not found")
	}
	if err != nil {
		return store.Document{}, err
	}
	if !canSee(session, doc) {
		return store.Document{}, notFoundError("Document not found")
	}
	return doc, nil
}

func canSee(session Session, doc store.Document) bool {
	if session.Role == string(rbac.RoleAdmin) {
		return true
	}
	if doc.UploadedBy == session.UserID {
		return true
	}
	if doc.CompanyID != "" && doc.CompanyID == session.CompanyID {
		return true
	}
	for _, userID := range doc.VisibleTo {
		if userID == session.UserID {
			return true
		}
	}
	return false
}

// UploadDocument is the new-document path. Content goes to the blob store
// first; the document row, its version-1 snapshot, and the upload activity
// are then written in one transaction.
func (s *Service) UploadDocument(ctx context.Context, session Session, input UploadDocumentInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if len(input.Content) == 0 {
		return nil, validationError("file content is required")
	}
	if name == "" {
		return nil, validationError("name is required")
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return nil, validationError("category is required")
	}
	if _, ok := allowedCategories[category]; !ok {
		return nil, validationError(fmt.Sprintf("unknown category %q", category))
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(input.Content)) > s.cfg.MaxUploadBytes {
		return nil, validationError("file exceeds the upload size limit")
	}

	documentID := util.NewID("doc")
	ref, err := s.blobs.Put(ctx, objectKey(documentID, 1, name), input.Content, input.MimeType)
	if err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	now := time.Now().UTC()
	doc := store.Document{
		ID:         documentID,
		Name:       name,
		ContentRef: ref,
		MimeType:   defaultMime(input.MimeType),
		SizeBytes:  int64(len(input.Content)),
		Category:   category,
		UploadedBy: session.UserID,
		UploadedAt: now,
		CompanyID:  input.CompanyID,
		Version:    1,
		Metadata:   input.Metadata,
		Tags:       dedupe(input.Tags),
		VisibleTo:  withUploader(input.VisibleTo, session.UserID),
	}
	snapshot := store.VersionSnapshot{
		ID:         util.NewID("ver"),
		DocumentID: documentID,
		Version:    1,
		ContentRef: ref,
		SizeBytes:  doc.SizeBytes,
		UploadedBy: session.UserID,
		UploadedAt: now,
		Changes:    "Initial upload",
	}
	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityUpload,
		Details:    uploadDetails(name, category, doc.SizeBytes),
	}

	if err := s.store.CreateDocument(ctx, doc, snapshot, activity); err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.IndexDocument(searchRecord(doc))
	}
	return documentPayload(doc), nil
}

// UploadVersion is the new-version path: a new immutable snapshot plus an
// atomic bump of the document's current fields.
func (s *Service) UploadVersion(ctx context.Context, session Session, documentID string, input UploadVersionInput) (map[string]any, error) {
	if len(input.Content) == 0 {
		return nil, validationError("file content is required")
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(input.Content)) > s.cfg.MaxUploadBytes {
		return nil, validationError("file exceeds the upload size limit")
	}

	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}

	newVersion := doc.Version + 1
	ref, err := s.blobs.Put(ctx, objectKey(documentID, newVersion, doc.Name), input.Content, doc.MimeType)
	if err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	now := time.Now().UTC()
	snapshot := store.VersionSnapshot{
		ID:         util.NewID("ver"),
		DocumentID: documentID,
		Version:    newVersion,
		ContentRef: ref,
		SizeBytes:  int64(len(input.Content)),
		UploadedBy: session.UserID,
		UploadedAt: now,
		Changes:    strings.TrimSpace(input.Notes),
	}
	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityVersion,
		Details:    versionDetails(newVersion, strings.TrimSpace(input.Notes)),
	}

	if err := s.store.AddVersion(ctx, snapshot, activity); err != nil {
		return nil, err
	}

	return map[string]any{
		"id":         documentID,
		"version":    newVersion,
		"sizeBytes":  snapshot.SizeBytes,
		"uploadedAt": now,
	}, nil
}

// ListVersions returns the chain newest-first.
func (s *Service) ListVersions(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionPayload(v))
	}
	return items, nil
}

// RevertToVersion copies the target snapshot's content fields onto the
// document. The chain is never truncated; the revert itself shows up as
// one more version activity.
func (s *Service) RevertToVersion(ctx context.Context, session Session, documentID, versionID string) (map[string]any, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}

	target, err := s.store.GetVersion(ctx, documentID, versionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, validationError("unknown version")
	}
	if err != nil {
		return nil, err
	}

	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityVersion,
		Details:    revertDetails(target.Version),
	}
	if err := s.store.RevertDocument(ctx, target, activity); err != nil {
		return nil, err
	}

	return map[string]any{
		"id":         documentID,
		"contentRef": target.ContentRef,
		"sizeBytes":  target.SizeBytes,
		"revertedTo": target.Version,
	}, nil
}

func (s *Service) AddComment(ctx context.Context, session Session, documentID, content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, validationError("comment content is required")
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityComment,
		Details:    commentDetails(comment.ID),
	}
	if err := s.store.InsertComment(ctx, comment, activity); err != nil {
		return nil, err
	}
	return commentPayload(comment), nil
}

func (s *Service) ListComments(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, c := range comments {
		items = append(items, commentPayload(c))
	}
	return items, nil
}

// AddAnnotation places a positional note at x/y percentages of the
// rendered surface. The data contract does not check the document's mime
// type; non-previewable documents simply have no surface to render on.
func (s *Service) AddAnnotation(ctx context.Context, session Session, documentID string, input AnnotationInput) (map[string]any, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, validationError("annotation content is required")
	}
	if input.X < 0 || input.X > 100 || input.Y < 0 || input.Y > 100 {
		return nil, validationError("position must be between 0 and 100 percent")
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}

	annotation := store.Annotation{
		ID:         util.NewID("ann"),
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Content:    content,
		PosX:       input.X,
		PosY:       input.Y,
		CreatedAt:  time.Now().UTC(),
	}
	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityAnnotate,
		Details:    annotateDetails(annotation.ID, input.X, input.Y),
	}
	if err := s.store.InsertAnnotation(ctx, annotation, activity); err != nil {
		return nil, err
	}
	return annotationPayload(annotation), nil
}

func (s *Service) ListAnnotations(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	annotations, err := s.store.ListAnnotations(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(annotations))
	for _, a := range annotations {
		items = append(items, annotationPayload(a))
	}
	return items, nil
}

// RemoveAnnotation hard deletes. It writes no activity record.
func (s *Service) RemoveAnnotation(ctx context.Context, session Session, documentID, annotationID string) error {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return err
	}
	deleted, err := s.store.DeleteAnnotation(ctx, documentID, annotationID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFoundError("Annotation not found")
	}
	return nil
}

/// AddTag has set semantics: a duplicate add changes nothing and logs
// nothing.
func (s *Service) AddTag(ctx context.Context, session Session, documentID, tag string) (map[string]any, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, validationError("tag is required")
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}

	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityUpdate,
		Details:    tagDetails(tag, true),
	}
	added, err := s.store.AddTag(ctx, documentID, tag, activity)
	if err != nil {
		return nil, err
	}
	if added {
		s.refreshSearchRecord(ctx, documentID)
	}
	return map[string]any{"tag": tag, "added": added}, nil
}

func (s *Service) RemoveTag(ctx context.Context, session Session, documentID, tag string) (map[string]any, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, validationError("tag is required")
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}

	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityUpdate,
		Details:    tagDetails(tag, false),
	}
	removed, err := s.store.RemoveTag(ctx, documentID, tag, activity)
	if err != nil {
		return nil, err
	}
	if removed {
		s.refreshSearchRecord(ctx, documentID)
	}
	return map[string]any{"tag": tag, "removed": removed}, nil
}

func (s *Service) SetReviewed(ctx context.Context, session Session, documentID string, reviewed bool) (map[string]any, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityUpdate,
		Details:    reviewDetails(reviewed),
	}
	if err := s.store.SetReviewed(ctx, documentID, reviewed, activity); err != nil {
		return nil, err
	}
	return map[string]any{"id": documentID, "reviewed": reviewed}, nil
}

// ShareDocument grants another user explicit visibility.
func (s *Service) ShareDocument(ctx context.Context, session Session, documentID, userID string) (map[string]any, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, validationError("userId is required")
	}
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUserByID(ctx, userID); errors.Is(err, sql.ErrNoRows) {
		return nil, validationError("unknown user")
	} else if err != nil {
		return nil, err
	}

	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityUpdate,
		Details:    shareDetails(userID, true),
	}
	granted, err := s.store.GrantVisibility(ctx, documentID, userID, session.UserID, activity)
	if err != nil {
		return nil, err
	}
	if granted {
		s.refreshSearchRecord(ctx, documentID)
	}
	return map[string]any{"userId": userID, "granted": granted}, nil
}

// UnshareDocument removes explicit visibility. The uploader's own access
// can never be revoked.
func (s *Service) UnshareDocument(ctx context.Context, session Session, documentID, userID string) (map[string]any, error) {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if userID == doc.UploadedBy {
		return nil, validationError("uploader access cannot be revoked")
	}

	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityUpdate,
		Details:    shareDetails(userID, false),
	}
	removed, err := s.store.RevokeVisibility(ctx, documentID, userID, activity)
	if err != nil {
		return nil, err
	}
	if removed {
		s.refreshSearchRecord(ctx, documentID)
	}
	return map[string]any{"userId": userID, "removed": removed}, nil
}

// Download presigns a URL for the current content and logs the access.
func (s *Service) Download(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	url, err := s.blobs.DownloadURL(ctx, doc.ContentRef, doc.Name, 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("presign download: %w", err)
	}
	if err := s.store.InsertActivity(ctx, store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityDownload,
		Details:    downloadDetails(doc.Version),
	}); err != nil {
		return nil, err
	}
	return map[string]any{"url": url, "name": doc.Name, "mimeType": doc.MimeType}, nil
}

// MarkViewed logs a view event. The client calls it when a preview opens.
func (s *Service) MarkViewed(ctx context.Context, session Session, documentID string) error {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return err
	}
	return s.store.InsertActivity(ctx, store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityView,
	})
}

// DeleteDocument soft deletes: the row stays for the audit trail but
// disappears from every registry query.
func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	doc, err := s.visibleDocument(ctx, session, documentID)
	if err != nil {
		return err
	}
	activity := store.ActivityRecord{
		DocumentID: documentID,
		UserID:     session.UserID,
		UserName:   session.UserName,
		Activity:   ActivityDelete,
		Details:    deleteDetails(doc.Name),
	}
	if err := s.store.SoftDeleteDocument(ctx, documentID, activity); err != nil {
		return err
	}
	if s.search != nil {
		s.search.RemoveDocument(documentID)
	}
	return nil
}

func (s *Service) ListActivity(ctx context.Context, session Session, documentID string) ([]map[string]any, error) {
	if _, err := s.visibleDocument(ctx, session, documentID); err != nil {
		return nil, err
	}
	records, err := s.store.ListActivity(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, activityPayload(record))
	}
	return items, nil
}

func (s *Service) Search(ctx context.Context, session Session, q search.Query) search.Response {
	q.UserID = session.UserID
	q.CompanyID = session.CompanyID
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func objectKey(documentID string, version int, name string) string {
	return fmt.Sprintf("documents/%s/v%d/%s", documentID, version, path.Base(name))
}

func defaultMime(mimeType string) string {
	if strings.TrimSpace(mimeType) == "" {
		return "application/octet-stream"
	}
	return mimeType
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

// withUploader guarantees the uploader is always in the visibility set.
func withUploader(visibleTo []string, uploaderID string) []string {
	out := dedupe(visibleTo)
	for _, userID := range out {
		if userID == uploaderID {
			return out
		}
	}
	return append(out, uploaderID)
}

// refreshSearchRecord re-reads the document and reindexes it so tag and
// visibility changes reach the search index without waiting for the next
// bootstrap reindex. Failures are logged; search staleness never fails
// the mutation that triggered it.
func (s *Service) refreshSearchRecord(ctx context.Context, documentID string) {
	if s.search == nil {
		return
	}
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		log.Printf("search: refresh record %s: %v", documentID, err)
		return
	}
	s.search.IndexDocument(searchRecord(doc))
}

func searchRecord(doc store.Document) search.DocumentRecord {
	return search.DocumentRecord{
		ID:         doc.ID,
		Name:       doc.Name,
		Category:   doc.Category,
		Tags:       doc.Tags,
		UploadedBy: doc.UploadedBy,
		CompanyID:  doc.CompanyID,
		VisibleTo:  doc.VisibleTo,
	}
}

func documentPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":         doc.ID,
		"name":       doc.Name,
		"contentRef": doc.ContentRef,
		"mimeType":   doc.MimeType,
		"sizeBytes":  doc.SizeBytes,
		"category":   doc.Category,
		"uploadedBy": doc.UploadedBy,
		"uploadedAt": doc.UploadedAt,
		"companyId":  doc.CompanyID,
		"reviewed":   doc.Reviewed,
		"version":    doc.Version,
		"tags":       doc.Tags,
		"metadata":   doc.Metadata,
	}
}

func versionPayload(v store.VersionSnapshot) map[string]any {
	return map[string]any{
		"id":         v.ID,
		"documentId": v.DocumentID,
		"version":    v.Version,
		"contentRef": v.ContentRef,
		"sizeBytes":  v.SizeBytes,
		"uploadedBy": v.UploadedBy,
		"uploadedAt": v.UploadedAt,
		"changes":    v.Changes,
	}
}

func commentPayload(c store.Comment) map[string]any {
	return map[string]any{
		"id":        c.ID,
		"userId":    c.UserID,
		"userName":  c.UserName,
		"content":   c.Content,
		"createdAt": c.CreatedAt,
	}
}

func annotationPayload(a store.Annotation) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"userId":    a.UserID,
		"userName":  a.UserName,
		"content":   a.Content,
		"position":  map[string]any{"x": a.PosX, "y": a.PosY},
		"createdAt": a.CreatedAt,
	}
}

func activityPayload(record store.ActivityRecord) map[string]any {
	return map[string]any{
		"id":         record.ID,
		"documentId": record.DocumentID,
		"userId":     record.UserID,
		"userName":   record.UserName,
		"activity":   record.Activity,
		"details":    record.Details,
		"timestamp":  record.CreatedAt,
	}
}
