package postgres

import (
	"context"
	"strings"

	"github.com/animus-labs/codepush/internal/domain"
)

const applicationColumns = `app_id, display_name, created_at, created_by`

type ApplicationStore struct {
	db DB
}

func NewApplicationStore(db DB) *ApplicationStore {
	if db == nil {
		return nil
	}
	return &ApplicationStore{db: db}
}

func (s *ApplicationStore) CreateApplication(ctx context.Context, app domain.Application) error {
	if s == nil {
		return errNotInitialized
	}
	if err := app.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO applications (`+applicationColumns+`) VALUES ($1, $2, $3, $4)`,
		strings.TrimSpace(app.ID), strings.TrimSpace(app.DisplayName), createdAt(app.CreatedAt), strings.TrimSpace(app.CreatedBy),
	)
	return classify("insert application "+app.ID, err)
}

func (s *ApplicationStore) GetApplication(ctx context.Context, id string) (domain.Application, error) {
	if s == nil {
		return domain.Application{}, errNotInitialized
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+applicationColumns+` FROM applications WHERE app_id = $1`, strings.TrimSpace(id))
	app, err := scanApplication(row)
	return app, classify("get application "+id, err)
}

// ListApplications orders by display name, which is what operators scan for.
func (s *ApplicationStore) ListApplications(ctx context.Context) ([]domain.Application, error) {
	if s == nil {
		return nil, errNotInitialized
	}
	return queryAll(ctx, s.db, "list applications", scanApplication,
		`SELECT `+applicationColumns+` FROM applications ORDER BY display_name, app_id`)
}

func scanApplication(row scanner) (domain.Application, error) {
	var app domain.Application
	err := row.Scan(&app.ID, &app.DisplayName, &app.CreatedAt, &app.CreatedBy)
	return app, err
}
