package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/animus-labs/codepush/internal/domain"
	"github.com/animus-labs/codepush/internal/repo"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, repo.ErrNotFound},
		{"unique violation", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505"}), repo.ErrConflict},
		{"missing parent", &pgconn.PgError{Code: "23503", ConstraintName: "releases_app_id_fkey"}, repo.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("insert release", tc.err)
			if !errors.Is(err, tc.want) {
				t.Fatalf("classify()=%v, want %v", err, tc.want)
			}
			if !strings.HasPrefix(err.Error(), "insert release: ") {
				t.Fatalf("classify()=%q lost the operation", err)
			}
		})
	}

	other := &pgconn.PgError{Code: "57014"}
	err := classify("list releases", other)
	if errors.Is(err, repo.ErrConflict) || errors.Is(err, repo.ErrNotFound) || !errors.Is(err, other) {
		t.Fatalf("classify(query canceled)=%v", err)
	}
	if classify("noop", nil) != nil {
		t.Fatalf("nil error not preserved")
	}
}

func TestSchemaStatements(t *testing.T) {
	stmts := schemaStatements()
	if len(stmts) != 4 {
		t.Fatalf("statements=%d, want 4", len(stmts))
	}
	for _, want := range []string{"UNIQUE (app_id, version)", "UNIQUE (release_id, arch)", "REFERENCES releases (release_id)"} {
		if !strings.Contains(schemaSQL, want) {
			t.Fatalf("schema missing %q", want)
		}
	}
}

func TestNilStoresRejectCalls(t *testing.T) {
	if NewReleaseStore(nil) != nil || NewArtifactStore(nil) != nil || NewApplicationStore(nil) != nil {
		t.Fatalf("constructors should return nil for nil db")
	}
	ctx := context.Background()
	var releases *ReleaseStore
	if _, err := releases.ListReleases(ctx, "app"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("ListReleases() err=%v", err)
	}
	var artifacts *ArtifactStore
	if err := artifacts.CreateArtifact(ctx, domain.Artifact{}); !errors.Is(err, errNotInitialized) {
		t.Fatalf("CreateArtifact() err=%v", err)
	}
	var apps *ApplicationStore
	if _, err := apps.GetApplication(ctx, "app"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("GetApplication() err=%v", err)
	}
}
