package repository

import (
	"context"

	"github.com/pesio-ai/be-oa-approvals/internal/database"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
)

// AnnouncementRepository handles announcements.
type AnnouncementRepository struct {
	db *database.DB
}

// NewAnnouncementRepository creates a new AnnouncementRepository.
func NewAnnouncementRepository(db *database.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// Create inserts an announcement.
func (r *AnnouncementRepository) Create(ctx context.Context, a *Announcement) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO announcements (title, content, created_by) VALUES ($1, $2, $3) RETURNING id, created_at`,
		a.Title, a.Content, a.CreatedBy,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create announcement")
	}
	return nil
}

// List returns announcements newest first.
func (r *AnnouncementRepository) List(ctx context.Context) ([]*Announcement, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, title, content, created_by, created_at
		FROM announcements
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list announcements")
	}
	defer rows.Close()

	var items []*Announcement
	for rows.Next() {
		a := &Announcement{}
		if err := rows.Scan(&a.ID, &a.Title, &a.Content, &a.CreatedBy, &a.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan announcement")
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
