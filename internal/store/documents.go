package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const documentColumns = `
	d.id, d.name, d.content_ref, d.mime_type, d.size_bytes, d.category,
	d.uploaded_by, d.uploaded_at, COALESCE(d.company_id, ''), d.reviewed,
	d.version, d.metadata, d.created_at
`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	var metadata []byte
	err := row.Scan(
		&item.ID, &item.Name, &item.ContentRef, &item.MimeType, &item.SizeBytes,
		&item.Category, &item.UploadedBy, &item.UploadedAt, &item.CompanyID,
		&item.Reviewed, &item.Version, &metadata, &item.CreatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return Document{}, fmt.Errorf("decode document metadata: %w", err)
		}
	}
	return item, nil
}

// ListVisibleDocuments resolves the visibility union in a single query:
// explicitly shared with the user, uploaded by the user, or shared with the
// user's company. Soft-deleted documents never appear.
func (s *PostgresStore) ListVisibleDocuments(ctx context.Context, userID, companyID string) ([]Document, error) {
	query := `
		SELECT DISTINCT ` + documentColumns + `
		FROM documents d
		LEFT JOIN document_visibility v ON v.document_id = d.id
		WHERE d.deleted_at IS NULL
			AND (v.user_id = $1 OR d.uploaded_by = $1 OR ($2 <> '' AND d.company_id = $2))
		ORDER BY d.uploaded_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, companyID)
	if err != nil {
		return nil, fmt.Errorf("list visible documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	if err := s.loadTags(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.id=$1 AND d.deleted_at IS NULL
	`, documentID)
	item, err := scanDocument(row)
	if err != nil {
		return Document{}, err
	}

	docs := []Document{item}
	if err := s.loadTags(ctx, docs); err != nil {
		return Document{}, err
	}
	item = docs[0]

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM document_visibility WHERE document_id=$1 ORDER BY granted_at
	`, documentID)
	if err != nil {
		return Document{}, fmt.Errorf("load visibility: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return Document{}, fmt.Errorf("scan visibility: %w", err)
		}
		item.VisibleTo = append(item.VisibleTo, userID)
	}
	if err := rows.Err(); err != nil {
		return Document{}, fmt.Errorf("iterate visibility: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) loadTags(ctx context.Context, docs []Document) error {
	for i := range docs {
		rows, err := s.db.QueryContext(ctx, `
			SELECT tag FROM document_tags WHERE document_id=$1 ORDER BY tag
		`, docs[i].ID)
		if err != nil {
			return fmt.Errorf("load tags: %w", err)
		}
		tags := make([]string, 0)
		for rows.Next() {
			var tag string
			if err := rows.Scan(&tag); err != nil {
				rows.Close()
				return fmt.Errorf("scan tag: %w", err)
			}
			tags = append(tags, tag)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate tags: %w", err)
		}
		rows.Close()
		docs[i].Tags = tags
	}
	return nil
}

// CreateDocument inserts the document, its visibility rows, initial tags,
// the version-1 snapshot, and the upload activity record in one
// transaction. The version-1 snapshot is materialized here, never
// reconstructed lazily.
func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document, snapshot VersionSnapshot, activity ActivityRecord) error {
	metadata, err := json.Marshal(nonNilMetadata(doc.Metadata))
	if err != nil {
		return fmt.Errorf("encode document metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var companyID any
	if doc.CompanyID != "" {
		companyID = doc.CompanyID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, name, content_ref, mime_type, size_bytes, category, uploaded_by, uploaded_at, company_id, version, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, doc.ID, doc.Name, doc.ContentRef, doc.MimeType, doc.SizeBytes, doc.Category, doc.UploadedBy, doc.UploadedAt, companyID, doc.Version, metadata); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, userID := range doc.VisibleTo {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_visibility (document_id, user_id, granted_by)
			VALUES ($1, $2, $3)
			ON CONFLICT (document_id, user_id) DO NOTHING
		`, doc.ID, userID, doc.UploadedBy); err != nil {
			return fmt.Errorf("insert visibility: %w", err)
		}
	}

	for _, tag := range doc.Tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_tags (document_id, tag)
			VALUES ($1, $2)
			ON CONFLICT (document_id, tag) DO NOTHING
		`, doc.ID, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}

	if err := insertVersionTx(ctx, tx, snapshot); err != nil {
		return err
	}
	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create document: %w", err)
	}
	return nil
}

func insertVersionTx(ctx context.Context, tx execer, snapshot VersionSnapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_versions (id, document_id, version, content_ref, size_bytes, uploaded_by, uploaded_at, changes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, snapshot.ID, snapshot.DocumentID, snapshot.Version, snapshot.ContentRef, snapshot.SizeBytes, snapshot.UploadedBy, snapshot.UploadedAt, snapshot.Changes)
	if err != nil {
		return fmt.Errorf("insert version snapshot: %w", err)
	}
	return nil
}

// AddVersion appends a snapshot and points the document's current fields at
// it, atomically with the version activity record.
func (s *PostgresStore) AddVersion(ctx context.Context, snapshot VersionSnapshot, activity ActivityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add version: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertVersionTx(ctx, tx, snapshot); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET content_ref=$2, size_bytes=$3, uploaded_at=$4, version=$5
		WHERE id=$1 AND deleted_at IS NULL
	`, snapshot.DocumentID, snapshot.ContentRef, snapshot.SizeBytes, snapshot.UploadedAt, snapshot.Version)
	if err != nil {
		return fmt.Errorf("update document version: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]VersionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version, content_ref, size_bytes, uploaded_by, uploaded_at, changes
		FROM document_versions
		WHERE document_id=$1
		ORDER BY uploaded_at DESC, version DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]VersionSnapshot, 0)
	for rows.Next() {
		var item VersionSnapshot
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Version, &item.ContentRef, &item.SizeBytes, &item.UploadedBy, &item.UploadedAt, &item.Changes); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID, versionID string) (VersionSnapshot, error) {
	var item VersionSnapshot
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version, content_ref, size_bytes, uploaded_by, uploaded_at, changes
		FROM document_versions
		WHERE document_id=$1 AND id=$2
	`, documentID, versionID).Scan(&item.ID, &item.DocumentID, &item.Version, &item.ContentRef, &item.SizeBytes, &item.UploadedBy, &item.UploadedAt, &item.Changes)
	if err != nil {
		return VersionSnapshot{}, err
	}
	return item, nil
}

// RevertDocument copies the target snapshot's content fields onto the
// document. The version chain is left untouched.
func (s *PostgresStore) RevertDocument(ctx context.Context, target VersionSnapshot, activity ActivityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET content_ref=$2, size_bytes=$3
		WHERE id=$1 AND deleted_at IS NULL
	`, target.DocumentID, target.ContentRef, target.SizeBytes)
	if err != nil {
		return fmt.Errorf("revert document: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revert: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, documentID string, activity ActivityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete document: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE documents SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL
	`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete document: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetReviewed(ctx context.Context, documentID string, reviewed bool, activity ActivityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set reviewed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE documents SET reviewed=$2 WHERE id=$1 AND deleted_at IS NULL
	`, documentID, reviewed)
	if err != nil {
		return fmt.Errorf("set reviewed: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set reviewed: %w", err)
	}
	return nil
}

// AddTag inserts with set semantics. The activity record is written only
// when the tag set actually changed, so a duplicate add stays a true no-op.
func (s *PostgresStore) AddTag(ctx context.Context, documentID, tag string, activity ActivityRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin add tag: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO document_tags (document_id, tag)
		VALUES ($1, $2)
		ON CONFLICT (document_id, tag) DO NOTHING
	`, documentID, tag)
	if err != nil {
		return false, fmt.Errorf("add tag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add tag result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit add tag: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RemoveTag(ctx context.Context, documentID, tag string, activity ActivityRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin remove tag: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM document_tags WHERE document_id=$1 AND tag=$2
	`, documentID, tag)
	if err != nil {
		return false, fmt.Errorf("remove tag: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove tag result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit remove tag: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) GrantVisibility(ctx context.Context, documentID, userID, grantedBy string, activity ActivityRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin grant visibility: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO document_visibility (document_id, user_id, granted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO NOTHING
	`, documentID, userID, grantedBy)
	if err != nil {
		return false, fmt.Errorf("grant visibility: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant visibility result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit grant visibility: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) RevokeVisibility(ctx context.Context, documentID, userID string, activity ActivityRecord) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin revoke visibility: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM document_visibility
		WHERE document_id=$1 AND user_id=$2
			AND user_id <> (SELECT uploaded_by FROM documents WHERE id=$1)
	`, documentID, userID)
	if err != nil {
		return false, fmt.Errorf("revoke visibility: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke visibility result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit revoke visibility: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment, activity ActivityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert comment: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_comments (id, document_id, user_id, user_name, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, comment.ID, comment.DocumentID, comment.UserID, comment.UserName, comment.Content, comment.CreatedAt); err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, user_name, content, created_at
		FROM document_comments
		WHERE document_id=$1
		ORDER BY seq
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.UserID, &item.UserName, &item.Content, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertAnnotation(ctx context.Context, annotation Annotation, activity ActivityRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert annotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO document_annotations (id, document_id, user_id, user_name, content, pos_x, pos_y, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, annotation.ID, annotation.DocumentID, annotation.UserID, annotation.UserName, annotation.Content, annotation.PosX, annotation.PosY, annotation.CreatedAt); err != nil {
		return fmt.Errorf("insert annotation: %w", err)
	}

	if err := insertActivityTx(ctx, tx, activity); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert annotation: %w", err)
	}
	return nil
}

// DeleteAnnotation hard deletes. Unlike every other mutation it writes no
// activity record; annotation removal is not part of the audit trail.
func (s *PostgresStore) DeleteAnnotation(ctx context.Context, documentID, annotationID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM document_annotations WHERE document_id=$1 AND id=$2
	`, documentID, annotationID)
	if err != nil {
		return false, fmt.Errorf("delete annotation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete annotation result: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListAnnotations(ctx context.Context, documentID string) ([]Annotation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, user_name, content, pos_x, pos_y, created_at
		FROM document_annotations
		WHERE document_id=$1
		ORDER BY created_at
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()

	items := make([]Annotation, 0)
	for rows.Next() {
		var item Annotation
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.UserID, &item.UserName, &item.Content, &item.PosX, &item.PosY, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate annotations: %w", err)
	}
	return items, nil
}

func nonNilMetadata(metadata map[string]string) map[string]string {
	if metadata == nil {
		return map[string]string{}
	}
	return metadata
}
