// Package registryclient talks to release-registry over HTTP.
package registryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/animus-labs/codepush/internal/domain"
	"github.com/animus-labs/codepush/internal/platform/requestid"
	"github.com/animus-labs/codepush/internal/publish"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrUnauthorized is returned for 401 and 403 responses.
var ErrUnauthorized = publish.ErrAccessDenied

// StatusError is a non-2xx response the client has no special handling for.
type StatusError struct {
	Op         string
	StatusCode int
	Code       string
	RequestID  string

	// RequiredRole is set on 403 responses that name the missing role.
	RequiredRole string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: registry returned %d", e.Op, e.StatusCode)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.RequiredRole != "" {
		msg += " (role " + e.RequiredRole + " required)"
	}
	if e.RequestID != "" {
		msg += " (request_id=" + e.RequestID + ")"
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// Client implements publish.Registry. Every request of one Client carries an
// X-Request-Id sharing the same prefix, so registry logs and audit rows can be
// correlated with a single publish run.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
	runID   string
	seq     atomic.Int64
}

var _ publish.Registry = (*Client)(nil)

// New builds a Client whose transport attaches OAuth2 bearer tokens.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewWithHTTPClient(cfg.BaseURL, newHTTPClient(ctx, cfg), logger)
}

func newHTTPClient(ctx context.Context, cfg Config) *http.Client {
	var hc *http.Client
	switch {
	case cfg.Token != "":
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}))
	case cfg.ClientID != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		hc = cc.Client(ctx)
	default:
		hc = &http.Client{}
	}
	hc.Timeout = cfg.Timeout
	return hc
}

func NewWithHTTPClient(baseURL string, hc *http.Client, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("registry url: %w", err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	runID, err := requestid.New()
	if err != nil {
		return nil, fmt.Errorf("request id: %w", err)
	}
	return &Client{baseURL: u, http: hc, logger: logger, runID: runID}, nil
}

// RunID is the X-Request-Id prefix of this client's requests.
func (c *Client) RunID() string { return c.runID }

type wireApplication struct {
	AppID       string    `json:"app_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by"`
}

type wireRelease struct {
	ReleaseID         string    `json:"release_id"`
	AppID             string    `json:"app_id"`
	Version           string    `json:"version"`
	ToolchainRevision string    `json:"toolchain_revision"`
	CreatedAt         time.Time `json:"created_at"`
	CreatedBy         string    `json:"created_by"`
}

type wireArtifact struct {
	ArtifactID string    `json:"artifact_id"`
	ReleaseID  string    `json:"release_id"`
	Arch       string    `json:"arch"`
	Platform   string    `json:"platform"`
	Hash       string    `json:"hash"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	CreatedBy  string    `json:"created_by"`
}

func (w wireApplication) domain() domain.Application {
	return domain.Application{ID: w.AppID, DisplayName: w.DisplayName, CreatedAt: w.CreatedAt, CreatedBy: w.CreatedBy}
}

func (w wireRelease) domain() domain.Release {
	return domain.Release{
		ID:                w.ReleaseID,
		ApplicationID:     w.AppID,
		Version:           w.Version,
		ToolchainRevision: w.ToolchainRevision,
		CreatedAt:         w.CreatedAt,
		CreatedBy:         w.CreatedBy,
	}
}

func (w wireArtifact) domain() domain.Artifact {
	return domain.Artifact{
		ID:        w.ArtifactID,
		ReleaseID: w.ReleaseID,
		Arch:      w.Arch,
		Platform:  w.Platform,
		Hash:      w.Hash,
		SizeBytes: w.SizeBytes,
		CreatedAt: w.CreatedAt,
		CreatedBy: w.CreatedBy,
	}
}

type errorBody struct {
	Error        string        `json:"error"`
	RequestID    string        `json:"request_id"`
	RequiredRole string        `json:"required_role"`
	Release      *wireRelease  `json:"release"`
	Artifact     *wireArtifact `json:"artifact"`
}

func (c *Client) ListApplications(ctx context.Context) ([]domain.Application, error) {
	var out struct {
		Applications []wireApplication `json:"applications"`
	}
	if _, err := c.do(ctx, "list applications", http.MethodGet, "/api/v1/apps", "", nil, &out); err != nil {
		return nil, err
	}
	apps := make([]domain.Application, 0, len(out.Applications))
	for _, app := range out.Applications {
		apps = append(apps, app.domain())
	}
	return apps, nil
}

func (c *Client) ListReleases(ctx context.Context, appID string) ([]domain.Release, error) {
	var out struct {
		Releases []wireRelease `json:"releases"`
	}
	path := "/api/v1/apps/" + url.PathEscape(appID) + "/releases"
	if _, err := c.do(ctx, "list releases", http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	releases := make([]domain.Release, 0, len(out.Releases))
	for _, rel := range out.Releases {
		releases = append(releases, rel.domain())
	}
	return releases, nil
}

// CreateRelease returns the existing release and an error matching
// publish.ErrConflict when the version is already registered.
func (c *Client) CreateRelease(ctx context.Context, appID, version, toolchainRevision string) (domain.Release, error) {
	body, err := json.Marshal(map[string]string{
		"version":            version,
		"toolchain_revision": toolchainRevision,
	})
	if err != nil {
		return domain.Release{}, err
	}

	var out wireRelease
	path := "/api/v1/apps/" + url.PathEscape(appID) + "/releases"
	conflict, err := c.do(ctx, "create release", http.MethodPost, path, "application/json", bytes.NewReader(body), &out)
	if err != nil {
		return domain.Release{}, err
	}
	if conflict != nil {
		var existing domain.Release
		if conflict.Release != nil {
			existing = conflict.Release.domain()
		}
		return existing, fmt.Errorf("release %s %s: %w", appID, version, publish.ErrConflict)
	}
	return out.domain(), nil
}

// CreateArtifact uploads one artifact. An existing artifact for the same
// release and arch is reported as *publish.ConflictError.
func (c *Client) CreateArtifact(ctx context.Context, upload publish.ArtifactUpload) (domain.Artifact, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, field := range [][2]string{
		{"arch", upload.Arch},
		{"platform", upload.Platform},
		{"hash", upload.Hash},
	} {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return domain.Artifact{}, err
		}
	}
	fw, err := mw.CreateFormFile("file", upload.Arch+".bin")
	if err != nil {
		return domain.Artifact{}, err
	}
	if _, err := fw.Write(upload.Content); err != nil {
		return domain.Artifact{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.Artifact{}, err
	}

	var out wireArtifact
	path := "/api/v1/releases/" + url.PathEscape(upload.ReleaseID) + "/artifacts"
	conflict, err := c.do(ctx, "create artifact "+upload.Arch, http.MethodPost, path, mw.FormDataContentType(), &buf, &out)
	if err != nil {
		return domain.Artifact{}, err
	}
	if conflict != nil {
		cerr := &publish.ConflictError{}
		if conflict.Artifact != nil {
			existing := conflict.Artifact.domain()
			cerr.Existing = &existing
		}
		return domain.Artifact{}, cerr
	}
	return out.domain(), nil
}

// do sends one request. A 409 response is decoded and returned as the first
// value with a nil error; other non-2xx responses are *StatusError.
func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) (*errorBody, error) {
	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	reqID := c.runID + "-" + strconv.FormatInt(c.seq.Add(1), 10)
	req.Header.Set(requestid.Header, reqID)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("registry request", "op", op, "method", method, "path", path, "status", resp.StatusCode, "request_id", reqID, "duration_ms", time.Since(start).Milliseconds())

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(raw) == 0 {
			return nil, nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", op, err)
		}
		return nil, nil
	case resp.StatusCode == http.StatusConflict:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return &eb, nil
	default:
		var eb errorBody
		_ = json.Unmarshal(raw, &eb)
		return nil, &StatusError{Op: op, StatusCode: resp.StatusCode, Code: eb.Error, RequestID: reqID, RequiredRole: eb.RequiredRole}
	}
}
