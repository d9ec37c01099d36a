package domain

import (
	"errors"
	"strings"
	"time"
)

// Application is a registered mobile app that releases are published for.
type Application struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
	CreatedBy   string
}

func (a Application) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("application id is required")
	}
	if strings.TrimSpace(a.DisplayName) == "" {
		return errors.New("display name is required")
	}
	return nil
}
