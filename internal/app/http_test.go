package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"beacon/api/internal/auth"
	"beacon/api/internal/store"
)

func newTestHandler(fake *fakeStore) http.Handler {
	service := newTestService(fake)
	return NewHTTPServer(service, "http://localhost:3000").Handler()
}

func issueTestToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Name: "Test User",
		Role: "employee",
		JTI:  "jti-" + userID,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return token
}

func doRequest(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func userFixture(role string) func(context.Context, string) (store.User, error) {
	return func(_ context.Context, userID string) (store.User, error) {
		return store.User{ID: userID, DisplayName: "Test User", Role: role, CompanyID: "co_1"}, nil
	}
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(&fakeStore{})
	recorder := doRequest(t, handler, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if payload := decodeResponse(t, recorder); payload["ok"] != true {
		t.Errorf("expected ok true, got %v", payload)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	handler := newTestHandler(&fakeStore{})
	recorder := doRequest(t, handler, http.MethodGet, "/api/documents", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestUploadThenListDocuments(t *testing.T) {
	var created []store.Document
	fake := &fakeStore{
		getUserByIDFn: userFixture("employee"),
		createDocumentFn: func(_ context.Context, doc store.Document, _ store.VersionSnapshot, _ store.ActivityRecord) error {
			created = append(created, doc)
			return nil
		},
		listVisibleDocumentsFn: func(context.Context, string, string) ([]store.Document, error) {
			return created, nil
		},
	}
	handler := newTestHandler(fake)
	token := issueTestToken(t, "usr_1")

	recorder := doRequest(t, handler, http.MethodPost, "/api/documents", token, map[string]any{
		"name":     "kickoff-notes.pdf",
		"category": "Meeting Notes",
		"mimeType": "application/pdf",
		"content":  base64.StdEncoding.EncodeToString([]byte("notes")),
		"tags":     []string{"kickoff"},
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	uploaded := decodeResponse(t, recorder)
	if uploaded["name"] != "kickoff-notes.pdf" {
		t.Errorf("unexpected upload payload: %v", uploaded)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/documents", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", recorder.Code)
	}
	listed := decodeResponse(t, recorder)
	documents, ok := listed["documents"].([]any)
	if !ok || len(documents) != 1 {
		t.Fatalf("expected one listed document, got %v", listed)
	}
	first := documents[0].(map[string]any)
	if first["name"] != "kickoff-notes.pdf" || first["version"] != float64(1) {
		t.Errorf("unexpected listed document: %v", first)
	}
}

func TestUploadVersionEndpoint(t *testing.T) {
	var gotActivity store.ActivityRecord
	fake := &fakeStore{
		getUserByIDFn: userFixture("employee"),
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{ID: "doc_1", Name: "report.docx", UploadedBy: "usr_1", Version: 1}, nil
		},
		addVersionFn: func(_ context.Context, _ store.VersionSnapshot, activity store.ActivityRecord) error {
			gotActivity = activity
			return nil
		},
	}
	handler := newTestHandler(fake)
	token := issueTestToken(t, "usr_1")

	recorder := doRequest(t, handler, http.MethodPost, "/api/documents/doc_1/versions", token, map[string]any{
		"content": base64.StdEncoding.EncodeToString([]byte("revised")),
		"notes":   "fixed typo",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["version"] != float64(2) {
		t.Errorf("expected version 2, got %v", payload["version"])
	}
	if gotActivity.Details["notes"] != "fixed typo" {
		t.Errorf("expected notes in activity details, got %v", gotActivity.Details)
	}
}

func TestRevertEndpoint(t *testing.T) {
	fake := &fakeStore{
		getUserByIDFn: userFixture("employee"),
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{ID: "doc_1", UploadedBy: "usr_1", Version: 3}, nil
		},
		getVersionFn: func(_ context.Context, documentID, versionID string) (store.VersionSnapshot, error) {
			if versionID != "ver_1" {
				return store.VersionSnapshot{}, sql.ErrNoRows
			}
			return store.VersionSnapshot{ID: "ver_1", DocumentID: documentID, Version: 1, ContentRef: "refs/v1"}, nil
		},
	}
	handler := newTestHandler(fake)
	token := issueTestToken(t, "usr_1")

	recorder := doRequest(t, handler, http.MethodPost, "/api/documents/doc_1/versions/ver_1/revert", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeResponse(t, recorder)
	if payload["revertedTo"] != float64(1) {
		t.Errorf("expected revertedTo 1, got %v", payload)
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/documents/doc_1/versions/ver_404/revert", token, nil)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unknown version, got %d", recorder.Code)
	}
}

func TestClientRoleGates(t *testing.T) {
	fake := &fakeStore{
		getUserByIDFn: userFixture("client"),
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{ID: "doc_1", UploadedBy: "usr_1"}, nil
		},
	}
	handler := newTestHandler(fake)
	token := issueTestToken(t, "usr_1")

	recorder := doRequest(t, handler, http.MethodDelete, "/api/documents/doc_1", token, nil)
	if recorder.Code != http.StatusForbidden {
		t.Errorf("delete: expected 403 for client, got %d", recorder.Code)
	}

	recorder = doRequest(t, handler, http.MethodPost, "/api/documents/doc_1/annotations", token, map[string]any{
		"content": "look here", "x": 10.0, "y": 20.0,
	})
	if recorder.Code != http.StatusForbidden {
		t.Errorf("annotate: expected 403 for client, got %d", recorder.Code)
	}

	// Clients can still comment.
	recorder = doRequest(t, handler, http.MethodPost, "/api/documents/doc_1/comments", token, map[string]any{
		"content": "looks good",
	})
	if recorder.Code != http.StatusCreated {
		t.Errorf("comment: expected 201 for client, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestGetDocumentHidesInvisible(t *testing.T) {
	fake := &fakeStore{
		getUserByIDFn: userFixture("client"),
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{ID: "doc_1", UploadedBy: "usr_owner", CompanyID: "co_other", VisibleTo: []string{"usr_owner"}}, nil
		},
	}
	handler := newTestHandler(fake)
	token := issueTestToken(t, "usr_outsider")

	recorder := doRequest(t, handler, http.MethodGet, "/api/documents/doc_1", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for invisible document, got %d", recorder.Code)
	}
}

func TestActivityEndpoint(t *testing.T) {
	fake := &fakeStore{
		getUserByIDFn: userFixture("employee"),
		getDocumentFn: func(context.Context, string) (store.Document, error) {
			return store.Document{ID: "doc_1", UploadedBy: "usr_1"}, nil
		},
		listActivityFn: func(context.Context, string) ([]store.ActivityRecord, error) {
			return []store.ActivityRecord{
				{ID: 2, DocumentID: "doc_1", UserID: "usr_1", Activity: ActivityComment},
				{ID: 1, DocumentID: "doc_1", UserID: "usr_1", Activity: ActivityUpload},
			}, nil
		},
	}
	handler := newTestHandler(fake)
	token := issueTestToken(t, "usr_1")

	recorder := doRequest(t, handler, http.MethodGet, "/api/documents/doc_1/activity", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	records, ok := payload["activity"].([]any)
	if !ok || len(records) != 2 {
		t.Fatalf("expected two activity records, got %v", payload)
	}
	first := records[0].(map[string]any)
	if first["activity"] != ActivityComment {
		t.Errorf("expected newest-first ordering, got %v", first)
	}
}

func TestSessionEndpointReportsIdentity(t *testing.T) {
	fake := &fakeStore{getUserByIDFn: userFixture("expert")}
	handler := newTestHandler(fake)
	token := issueTestToken(t, "usr_9")

	recorder := doRequest(t, handler, http.MethodGet, "/api/session", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	payload := decodeResponse(t, recorder)
	if payload["authenticated"] != true || payload["role"] != "expert" {
		t.Errorf("unexpected session payload: %v", payload)
	}

	recorder = doRequest(t, handler, http.MethodGet, "/api/session", "", nil)
	payload = decodeResponse(t, recorder)
	if payload["authenticated"] != false {
		t.Errorf("expected unauthenticated, got %v", payload)
	}
}
