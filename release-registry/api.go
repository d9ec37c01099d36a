package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/codepush/internal/domain"
	"github.com/animus-labs/codepush/internal/platform/auth"
	"github.com/animus-labs/codepush/internal/platform/requestid"
	"github.com/animus-labs/codepush/internal/repo"
	"github.com/animus-labs/codepush/internal/service/registry"
)

const serviceName = "release-registry"

type releaseRegistry interface {
	CreateApplication(ctx context.Context, id, displayName string, auditCtx registry.AuditContext) (domain.Application, error)
	GetApplication(ctx context.Context, id string) (domain.Application, error)
	ListApplications(ctx context.Context) ([]domain.Application, error)
	ListReleases(ctx context.Context, appID string) ([]domain.Release, error)
	CreateRelease(ctx context.Context, appID, version, toolchainRevision string, auditCtx registry.AuditContext) (domain.Release, error)
	ListArtifacts(ctx context.Context, releaseID string) ([]domain.Artifact, error)
	CreateArtifact(ctx context.Context, in registry.ArtifactInput, auditCtx registry.AuditContext) (domain.Artifact, error)
	OpenArtifact(ctx context.Context, id string) (domain.Artifact, io.ReadCloser, error)
}

type registryAPI struct {
	logger         *slog.Logger
	svc            releaseRegistry
	uploadMaxBytes int64
}

func newRegistryAPI(logger *slog.Logger, svc releaseRegistry, uploadMaxBytes int64) *registryAPI {
	if uploadMaxBytes <= 0 {
		uploadMaxBytes = int64(512) << 20
	}
	return &registryAPI{logger: logger, svc: svc, uploadMaxBytes: uploadMaxBytes}
}

func (api *registryAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/apps", api.handleListApplications)
	mux.HandleFunc("POST /api/v1/apps", api.handleCreateApplication)
	mux.HandleFunc("GET /api/v1/apps/{app_id}", api.handleGetApplication)

	mux.HandleFunc("GET /api/v1/apps/{app_id}/releases", api.handleListReleases)
	mux.HandleFunc("POST /api/v1/apps/{app_id}/releases", api.handleCreateRelease)

	mux.HandleFunc("GET /api/v1/releases/{release_id}/artifacts", api.handleListArtifacts)
	mux.HandleFunc("POST /api/v1/releases/{release_id}/artifacts", api.handleCreateArtifact)

	mux.HandleFunc("GET /api/v1/artifacts/{artifact_id}/content", api.handleDownloadArtifact)
}

type application struct {
	AppID       string    `json:"app_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

type release struct {
	ReleaseID         string    `json:"release_id"`
	AppID             string    `json:"app_id"`
	Version           string    `json:"version"`
	ToolchainRevision string    `json:"toolchain_revision"`
	CreatedAt         time.Time `json:"created_at"`
	CreatedBy         string    `json:"created_by"`
}

type artifact struct {
	ArtifactID string    `json:"artifact_id"`
	ReleaseID  string    `json:"release_id"`
	Arch       string    `json:"arch"`
	Platform   string    `json:"platform"`
	Hash       string    `json:"hash"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedBy  string    `json:"created_by"`
}

func toApplication(a domain.Application) application {
	return application{AppID: a.ID, DisplayName: a.DisplayName, CreatedAt: a.CreatedAt, CreatedBy: a.CreatedBy}
}

func toRelease(r domain.Release) release {
	return release{
		ReleaseID:         r.ID,
		AppID:             r.ApplicationID,
		Version:           r.Version,
		ToolchainRevision: r.ToolchainRevision,
		CreatedAt:         r.CreatedAt,
		CreatedBy:         r.CreatedBy,
	}
}

func toArtifact(a domain.Artifact) artifact {
	return artifact{
		ArtifactID: a.ID,
		ReleaseID:  a.ReleaseID,
		Arch:       a.Arch,
		Platform:   a.Platform,
		Hash:       a.Hash,
		SizeBytes:  a.SizeBytes,
		CreatedAt:  a.CreatedAt,
		CreatedBy:  a.CreatedBy,
	}
}

type createApplicationRequest struct {
	AppID       string `json:"app_id"`
	DisplayName string `json:"display_name,omitempty"`
}

type createReleaseRequest struct {
	Version           string `json:"version"`
	ToolchainRevision string `json:"toolchain_revision"`
}

func (api *registryAPI) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := api.svc.ListApplications(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]application, 0, len(apps))
	for _, app := range apps {
		out = append(out, toApplication(app))
	}
	writeJSON(w, http.StatusOK, map[string]any{"applications": out})
}

func (api *registryAPI) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_json", "")
		return
	}

	app, err := api.svc.CreateApplication(r.Context(), req.AppID, req.DisplayName, buildAuditContext(r))
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":       "app_exists",
				"request_id":  requestID(r),
				"application": toApplication(app),
			})
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/apps/"+app.ID)
	writeJSON(w, http.StatusCreated, toApplication(app))
}

func (api *registryAPI) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	app, err := api.svc.GetApplication(r.Context(), r.PathValue("app_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplication(app))
}

func (api *registryAPI) handleListReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := api.svc.ListReleases(r.Context(), r.PathValue("app_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]release, 0, len(releases))
	for _, rel := range releases {
		out = append(out, toRelease(rel))
	}
	writeJSON(w, http.StatusOK, map[string]any{"releases": out})
}

func (api *registryAPI) handleCreateRelease(w http.ResponseWriter, r *http.Request) {
	var req createReleaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_json", "")
		return
	}

	rel, err := api.svc.CreateRelease(r.Context(), r.PathValue("app_id"), req.Version, req.ToolchainRevision, buildAuditContext(r))
	if err != nil {
		if errors.Is(err, repo.ErrConflict) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":      "release_exists",
				"request_id": requestID(r),
				"release":    toRelease(rel),
			})
			return
		}
		api.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/apps/"+rel.ApplicationID+"/releases")
	writeJSON(w, http.StatusCreated, toRelease(rel))
}

func (api *registryAPI) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	artifacts, err := api.svc.ListArtifacts(r.Context(), r.PathValue("release_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	out := make([]artifact, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, toArtifact(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"artifacts": out})
}

// handleCreateArtifact expects the arch, platform and hash fields before the
// file part so the file can be streamed straight into the service.
func (api *registryAPI) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > api.uploadMaxBytes {
		api.writeTooLarge(w, r)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, api.uploadMaxBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "invalid_multipart", "")
		return
	}

	in := registry.ArtifactInput{ReleaseID: r.PathValue("release_id")}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isMaxBytes(err) {
				api.writeTooLarge(w, r)
				return
			}
			writeAPIError(w, r, http.StatusBadRequest, "invalid_multipart", "")
			return
		}

		switch part.FormName() {
		case "arch", "platform", "hash":
			raw, err := io.ReadAll(io.LimitReader(part, 1<<10))
			_ = part.Close()
			if err != nil {
				writeAPIError(w, r, http.StatusBadRequest, "invalid_multipart", "")
				return
			}
			value := strings.TrimSpace(string(raw))
			switch part.FormName() {
			case "arch":
				in.Arch = value
			case "platform":
				in.Platform = value
			case "hash":
				in.Hash = value
			}
		case "file":
			if in.Arch == "" || in.Platform == "" || in.Hash == "" {
				_ = part.Close()
				writeAPIError(w, r, http.StatusBadRequest, "fields_required_before_file", "arch, platform and hash must precede file")
				return
			}
			in.Content = part
			created, err := api.svc.CreateArtifact(r.Context(), in, buildAuditContext(r))
			_ = part.Close()
			api.writeArtifactResult(w, r, created, err)
			return
		default:
			_ = part.Close()
		}
	}
	writeAPIError(w, r, http.StatusBadRequest, "file_required", "")
}

func (api *registryAPI) writeArtifactResult(w http.ResponseWriter, r *http.Request, created domain.Artifact, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, toArtifact(created))
	case errors.Is(err, repo.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":      "artifact_exists",
			"request_id": requestID(r),
			"artifact":   toArtifact(created),
		})
	case isMaxBytes(err):
		api.writeTooLarge(w, r)
	default:
		api.writeServiceError(w, r, err)
	}
}

func (api *registryAPI) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	a, body, err := api.svc.OpenArtifact(r.Context(), r.PathValue("artifact_id"))
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(a.SizeBytes, 10))
	w.Header().Set("X-Content-Sha256", a.Hash)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		api.logger.Warn("artifact download interrupted", "artifact_id", a.ID, "request_id", requestID(r), "error", err)
	}
}

func (api *registryAPI) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		writeAPIError(w, r, http.StatusNotFound, "not_found", "")
	case errors.Is(err, registry.ErrHashMismatch):
		writeAPIError(w, r, http.StatusUnprocessableEntity, "hash_mismatch", err.Error())
	case errors.Is(err, registry.ErrInvalidArgument):
		writeAPIError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
	default:
		api.logger.Error("request failed", "request_id", requestID(r), "path", r.URL.Path, "error", err)
		writeAPIError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

func (api *registryAPI) writeTooLarge(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
		"error":      "upload_too_large",
		"request_id": requestID(r),
		"details": map[string]any{
			"max_bytes":     api.uploadMaxBytes,
			"max_mebibytes": api.uploadMaxBytes >> 20,
		},
	})
}

func isMaxBytes(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func buildAuditContext(r *http.Request) registry.AuditContext {
	return registry.AuditContext{
		Actor:     auth.Actor(r.Context()),
		RequestID: requestID(r),
		IP:        requestIP(r.RemoteAddr),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Service:   serviceName,
	}
}

// requestID is the id httpserver.Wrap settled on for r.
func requestID(r *http.Request) string { return r.Header.Get(requestid.Header) }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, details string) {
	body := map[string]any{
		"error":      code,
		"request_id": requestID(r),
	}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
