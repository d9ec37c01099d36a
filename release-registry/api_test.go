package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animus-labs/codepush/internal/domain"
	"github.com/animus-labs/codepush/internal/platform/requestid"
	"github.com/animus-labs/codepush/internal/repo"
	"github.com/animus-labs/codepush/internal/service/registry"
)

type stubRegistry struct {
	apps      []domain.Application
	release   *domain.Release
	artifact  *domain.Artifact
	content   []byte
	createErr error

	gotInput   registry.ArtifactInput
	gotContent []byte
	gotAudit   registry.AuditContext
}

func (s *stubRegistry) CreateApplication(ctx context.Context, id, displayName string, auditCtx registry.AuditContext) (domain.Application, error) {
	s.gotAudit = auditCtx
	app := domain.Application{ID: id, DisplayName: displayName, CreatedBy: auditCtx.Actor}
	return app, s.createErr
}

func (s *stubRegistry) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	for _, app := range s.apps {
		if app.ID == id {
			return app, nil
		}
	}
	return domain.Application{}, repo.ErrNotFound
}

func (s *stubRegistry) ListApplications(ctx context.Context) ([]domain.Application, error) {
	return s.apps, nil
}

func (s *stubRegistry) ListReleases(ctx context.Context, appID string) ([]domain.Release, error) {
	if s.release == nil || s.release.ApplicationID != appID {
		return nil, repo.ErrNotFound
	}
	return []domain.Release{*s.release}, nil
}

func (s *stubRegistry) CreateRelease(ctx context.Context, appID, version, toolchainRevision string, auditCtx registry.AuditContext) (domain.Release, error) {
	if s.release != nil && s.release.Version == version {
		return *s.release, fmt.Errorf("release: %w", repo.ErrConflict)
	}
	return domain.Release{ID: "rel-new", ApplicationID: appID, Version: version, ToolchainRevision: toolchainRevision}, nil
}

func (s *stubRegistry) ListArtifacts(ctx context.Context, releaseID string) ([]domain.Artifact, error) {
	if s.artifact == nil {
		return nil, nil
	}
	return []domain.Artifact{*s.artifact}, nil
}

func (s *stubRegistry) CreateArtifact(ctx context.Context, in registry.ArtifactInput, auditCtx registry.AuditContext) (domain.Artifact, error) {
	s.gotInput = in
	data, err := io.ReadAll(in.Content)
	if err != nil {
		return domain.Artifact{}, err
	}
	s.gotContent = data
	if s.createErr != nil {
		if s.artifact != nil {
			return *s.artifact, s.createErr
		}
		return domain.Artifact{}, s.createErr
	}
	return domain.Artifact{ID: "art-1", ReleaseID: in.ReleaseID, Arch: in.Arch, Platform: in.Platform, Hash: in.Hash, SizeBytes: int64(len(data))}, nil
}

func (s *stubRegistry) OpenArtifact(ctx context.Context, id string) (domain.Artifact, io.ReadCloser, error) {
	if s.artifact == nil || s.artifact.ID != id {
		return domain.Artifact{}, nil, repo.ErrNotFound
	}
	return *s.artifact, io.NopCloser(bytes.NewReader(s.content)), nil
}

func newTestHandler(t *testing.T, svc releaseRegistry, maxBytes int64) http.Handler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	validator, err := newRequestValidator(t.Context(), logger)
	if err != nil {
		t.Fatalf("newRequestValidator() err=%v", err)
	}
	mux := http.NewServeMux()
	newRegistryAPI(logger, svc, maxBytes).register(mux)
	return validator.Wrap(mux)
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(requestid.Header, "rid-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

type part struct {
	name  string
	value string
	file  bool
}

func multipartRequest(t *testing.T, target string, parts ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		var w io.Writer
		var err error
		if p.file {
			w, err = mw.CreateFormFile(p.name, "libapp.so")
		} else {
			w, err = mw.CreateFormField(p.name)
		}
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := io.WriteString(w, p.value); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(requestid.Header, "rid-upload")
	return req
}

func TestCreateApplication(t *testing.T) {
	svc := &stubRegistry{}
	h := newTestHandler(t, svc, 0)

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/apps", `{"app_id":"demo","display_name":"Demo"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if body["app_id"] != "demo" || rec.Header().Get("Location") != "/api/v1/apps/demo" {
		t.Fatalf("body=%v location=%q", body, rec.Header().Get("Location"))
	}
	if svc.gotAudit.Actor != "anonymous" || svc.gotAudit.RequestID != "rid-test" {
		t.Fatalf("audit=%+v", svc.gotAudit)
	}
}

func TestCreateApplication_SchemaRejections(t *testing.T) {
	h := newTestHandler(t, &stubRegistry{}, 0)
	cases := map[string]string{
		"missing app_id": `{"display_name":"Demo"}`,
		"bad app_id":     `{"app_id":"Not Valid"}`,
		"unknown field":  `{"app_id":"demo","owner":"x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec, out := doJSON(t, h, http.MethodPost, "/api/v1/apps", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400", rec.Code)
			}
			if out["error"] != "invalid_request" {
				t.Fatalf("error=%v, want invalid_request", out["error"])
			}
		})
	}
}

func TestCreateApplication_Conflict(t *testing.T) {
	h := newTestHandler(t, &stubRegistry{createErr: fmt.Errorf("app: %w", repo.ErrConflict)}, 0)
	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/apps", `{"app_id":"demo"}`)
	if rec.Code != http.StatusConflict || body["error"] != "app_exists" {
		t.Fatalf("status=%d body=%v", rec.Code, body)
	}
	if body["request_id"] != "rid-test" {
		t.Fatalf("request_id=%v, want rid-test", body["request_id"])
	}
}

func TestListApplications(t *testing.T) {
	h := newTestHandler(t, &stubRegistry{apps: []domain.Application{{ID: "demo", DisplayName: "Demo"}}}, 0)
	rec, body := doJSON(t, h, http.MethodGet, "/api/v1/apps", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	apps, _ := body["applications"].([]any)
	if len(apps) != 1 {
		t.Fatalf("applications=%v", body["applications"])
	}
}

func TestGetApplication_NotFound(t *testing.T) {
	h := newTestHandler(t, &stubRegistry{}, 0)
	rec, body := doJSON(t, h, http.MethodGet, "/api/v1/apps/ghost", "")
	if rec.Code != http.StatusNotFound || body["error"] != "not_found" {
		t.Fatalf("status=%d body=%v", rec.Code, body)
	}
	if body["request_id"] != "rid-test" {
		t.Fatalf("request_id=%v, want rid-test", body["request_id"])
	}
}

func TestCreateRelease_ConflictCarriesExisting(t *testing.T) {
	existing := &domain.Release{ID: "rel-1", ApplicationID: "demo", Version: "1.0.0", ToolchainRevision: "abc"}
	h := newTestHandler(t, &stubRegistry{release: existing}, 0)

	rec, body := doJSON(t, h, http.MethodPost, "/api/v1/apps/demo/releases", `{"version":"1.0.0","toolchain_revision":"def"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if body["error"] != "release_exists" {
		t.Fatalf("error=%v", body["error"])
	}
	rel, _ := body["release"].(map[string]any)
	if rel["release_id"] != "rel-1" || rel["toolchain_revision"] != "abc" {
		t.Fatalf("release=%v", rel)
	}

	rec, body = doJSON(t, h, http.MethodPost, "/api/v1/apps/demo/releases", `{"version":"1.1.0","toolchain_revision":"def"}`)
	if rec.Code != http.StatusCreated || body["version"] != "1.1.0" {
		t.Fatalf("status=%d body=%v", rec.Code, body)
	}
}

func TestCreateRelease_RequiresRevision(t *testing.T) {
	h := newTestHandler(t, &stubRegistry{}, 0)
	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/apps/demo/releases", `{"version":"1.0.0"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestCreateArtifact_StreamsFile(t *testing.T) {
	svc := &stubRegistry{}
	h := newTestHandler(t, svc, 0)

	req := multipartRequest(t, "/api/v1/releases/rel-1/artifacts",
		part{name: "arch", value: "arm64"},
		part{name: "platform", value: "android"},
		part{name: "hash", value: "abc"},
		part{name: "file", value: "native bytes", file: true},
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if svc.gotInput.ReleaseID != "rel-1" || svc.gotInput.Arch != "arm64" || svc.gotInput.Hash != "abc" {
		t.Fatalf("input=%+v", svc.gotInput)
	}
	if string(svc.gotContent) != "native bytes" {
		t.Fatalf("content=%q", svc.gotContent)
	}
}

func TestCreateArtifact_FieldsMustPrecedeFile(t *testing.T) {
	h := newTestHandler(t, &stubRegistry{}, 0)
	req := multipartRequest(t, "/api/v1/releases/rel-1/artifacts",
		part{name: "file", value: "bytes", file: true},
		part{name: "arch", value: "arm64"},
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", rec.Code)
	}
}

func TestCreateArtifact_ErrorMapping(t *testing.T) {
	existing := &domain.Artifact{ID: "art-0", ReleaseID: "rel-1", Arch: "arm64", Hash: "old"}
	cases := []struct {
		name       string
		svc        *stubRegistry
		wantStatus int
		wantCode   string
	}{
		{"conflict", &stubRegistry{artifact: existing, createErr: fmt.Errorf("x: %w", repo.ErrConflict)}, http.StatusConflict, "artifact_exists"},
		{"hash mismatch", &stubRegistry{createErr: fmt.Errorf("x: %w", registry.ErrHashMismatch)}, http.StatusUnprocessableEntity, "hash_mismatch"},
		{"unknown release", &stubRegistry{createErr: repo.ErrNotFound}, http.StatusNotFound, "not_found"},
		{"invalid", &stubRegistry{createErr: fmt.Errorf("x: %w", registry.ErrInvalidArgument)}, http.StatusBadRequest, "invalid_argument"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, tc.svc, 0)
			req := multipartRequest(t, "/api/v1/releases/rel-1/artifacts",
				part{name: "arch", value: "arm64"},
				part{name: "platform", value: "android"},
				part{name: "hash", value: "new"},
				part{name: "file", value: "bytes", file: true},
			)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("status=%d, want %d (%s)", rec.Code, tc.wantStatus, rec.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["error"] != tc.wantCode {
				t.Fatalf("error=%v, want %s", body["error"], tc.wantCode)
			}
			if tc.wantCode == "artifact_exists" {
				a, _ := body["artifact"].(map[string]any)
				if a["artifact_id"] != "art-0" || a["hash"] != "old" {
					t.Fatalf("artifact=%v", a)
				}
			}
		})
	}
}

func TestCreateArtifact_TooLarge(t *testing.T) {
	h := newTestHandler(t, &stubRegistry{}, 64)
	req := multipartRequest(t, "/api/v1/releases/rel-1/artifacts",
		part{name: "arch", value: "arm64"},
		part{name: "platform", value: "android"},
		part{name: "hash", value: "abc"},
		part{name: "file", value: strings.Repeat("x", 256), file: true},
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status=%d, want 413", rec.Code)
	}
}

func TestDownloadArtifact(t *testing.T) {
	svc := &stubRegistry{
		artifact: &domain.Artifact{ID: "art-1", Hash: "abc", SizeBytes: 5},
		content:  []byte("hello"),
	}
	h := newTestHandler(t, svc, 0)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/art-1/content", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "hello" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Content-Sha256") != "abc" || rec.Header().Get("Content-Length") != "5" {
		t.Fatalf("headers=%v", rec.Header())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/artifacts/missing/content", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestDecodeJSON_RejectsExtraValue(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.test/", strings.NewReader(`{"version":"a"} {"version":"b"}`))
	var dst createReleaseRequest
	if err := decodeJSON(req, &dst); err == nil {
		t.Fatalf("expected error")
	}
}
