package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// AnnouncementService publishes notices to all users.
type AnnouncementService struct {
	store AnnouncementStore
	log   *logger.Logger
}

// NewAnnouncementService creates a new AnnouncementService.
func NewAnnouncementService(store AnnouncementStore, log *logger.Logger) *AnnouncementService {
	return &AnnouncementService{store: store, log: log}
}

// List returns announcements newest first.
func (s *AnnouncementService) List(ctx context.Context) ([]*repository.Announcement, error) {
	return s.store.List(ctx)
}

// Create stores an announcement authored by createdBy.
func (s *AnnouncementService) Create(ctx context.Context, createdBy int64, title, content string) (*repository.Announcement, error) {
	title = strings.TrimSpace(title)
	if err := validateName("title", title, 200); err != nil {
		return nil, err
	}

	a := &repository.Announcement{Title: title, Content: content, CreatedBy: &createdBy}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, err
	}

	s.log.Info().Int64("announcement_id", a.ID).Int64("created_by", createdBy).Msg("Announcement published")
	return a, nil
}
