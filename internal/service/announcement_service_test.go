package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
)

func TestAnnouncements(t *testing.T) {
	f := newFixture(t)
	svc := NewAnnouncementService(f.store.Announcements(), logger.Nop())

	first, err := svc.Create(f.ctx, f.admin.UserID, " Holiday ", "Office closed on Friday")
	require.NoError(t, err)
	assert.Equal(t, "Holiday", first.Title)
	require.NotNil(t, first.CreatedBy)
	assert.Equal(t, f.admin.UserID, *first.CreatedBy)

	second, err := svc.Create(f.ctx, f.admin.UserID, "Payroll", "")
	require.NoError(t, err)

	_, err = svc.Create(f.ctx, f.admin.UserID, "   ", "body")
	assert.True(t, errors.IsValidation(err))

	list, err := svc.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
}
