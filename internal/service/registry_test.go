package service

import (
	"context"
	stderrors "errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-oa-approvals/internal/cache"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
	"github.com/pesio-ai/be-oa-approvals/internal/repository/memory"
)

// countingStore counts the reads that reach the store.
type countingStore struct {
	ProcessTypeStore
	gets, lists int
}

func (s *countingStore) GetByCode(ctx context.Context, code string) (*repository.ProcessType, error) {
	s.gets++
	return s.ProcessTypeStore.GetByCode(ctx, code)
}

func (s *countingStore) List(ctx context.Context, activeOnly bool) ([]*repository.ProcessType, error) {
	s.lists++
	return s.ProcessTypeStore.List(ctx, activeOnly)
}

// stallingStore holds one armed GetByCode after it has read the store until
// release is closed.
type stallingStore struct {
	ProcessTypeStore
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (s *stallingStore) GetByCode(ctx context.Context, code string) (*repository.ProcessType, error) {
	pt, err := s.ProcessTypeStore.GetByCode(ctx, code)
	if s.armed.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return pt, err
}

type brokenCache struct {
	deleteErr error
}

var errCacheDown = stderrors.New("cache down")

func (brokenCache) Get(context.Context, string, any) (bool, error) { return false, errCacheDown }
func (brokenCache) Set(context.Context, string, any) error         { return errCacheDown }
func (c brokenCache) Delete(context.Context, ...string) error      { return c.deleteErr }

func newRegistry(t *testing.T, c cache.Cache) (*ProcessTypeRegistry, *countingStore) {
	t.Helper()
	store := &countingStore{ProcessTypeStore: memory.New().ProcessTypes()}
	reg := NewProcessTypeRegistry(store, c, logger.Nop())
	_, err := reg.Create(context.Background(), ProcessTypeInput{
		Code:     "leave",
		Name:     "Leave",
		IsActive: true,
		Fields:   []repository.FieldSchema{{Key: "days", Label: "Days", Kind: repository.FieldNumber, Required: true}},
	})
	require.NoError(t, err)
	return reg, store
}

func TestRegistryReadThrough(t *testing.T) {
	ctx := context.Background()
	reg, store := newRegistry(t, cache.NewMemory(time.Minute))

	for i := 0; i < 3; i++ {
		pt, err := reg.Get(ctx, "leave")
		require.NoError(t, err)
		assert.Equal(t, "Leave", pt.Name)
		require.Len(t, pt.Fields, 1)
	}
	assert.Equal(t, 1, store.gets)

	for i := 0; i < 3; i++ {
		types, err := reg.List(ctx)
		require.NoError(t, err)
		assert.Len(t, types, 1)
	}
	assert.Equal(t, 1, store.lists)
}

func TestRegistryUpdateInvalidates(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, cache.NewMemory(time.Hour))

	_, err := reg.Get(ctx, "leave")
	require.NoError(t, err)
	_, err = reg.List(ctx)
	require.NoError(t, err)

	name := "Leave of absence"
	fields := []repository.FieldSchema{
		{Key: "days", Label: "Days", Kind: repository.FieldNumber, Required: true},
		{Key: "reason", Label: "Reason", Kind: repository.FieldTextArea},
	}
	_, err = reg.Update(ctx, "leave", ProcessTypePatch{Name: &name, Fields: &fields})
	require.NoError(t, err)

	pt, err := reg.Get(ctx, "leave")
	require.NoError(t, err)
	assert.Equal(t, name, pt.Name)
	assert.Len(t, pt.Fields, 2)

	inactive := false
	_, err = reg.Update(ctx, "leave", ProcessTypePatch{IsActive: &inactive})
	require.NoError(t, err)

	active, err := reg.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := reg.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = reg.Resolve(ctx, "leave")
	assert.True(t, errors.IsNotFound(err))
	pt, err = reg.Get(ctx, "leave")
	require.NoError(t, err)
	assert.False(t, pt.IsActive)
}

func TestRegistryStaleFillAfterUpdateIsDropped(t *testing.T) {
	ctx := context.Background()
	store := &stallingStore{
		ProcessTypeStore: memory.New().ProcessTypes(),
		read:             make(chan struct{}),
		release:          make(chan struct{}),
	}
	reg := NewProcessTypeRegistry(store, cache.NewMemory(0), logger.Nop())
	_, err := reg.Create(ctx, ProcessTypeInput{Code: "expense", Name: "Expense", IsActive: true})
	require.NoError(t, err)

	store.armed.Store(true)
	done := make(chan *repository.ProcessType)
	go func() {
		pt, err := reg.Get(ctx, "expense")
		assert.NoError(t, err)
		done <- pt
	}()
	<-store.read

	requiresAmount := true
	_, err = reg.Update(ctx, "expense", ProcessTypePatch{RequiresAmount: &requiresAmount})
	require.NoError(t, err)

	close(store.release)
	stale := <-done
	require.NotNil(t, stale)
	assert.False(t, stale.RequiresAmount)

	pt, err := reg.Get(ctx, "expense")
	require.NoError(t, err)
	assert.True(t, pt.RequiresAmount)
}

func TestRegistryCacheFailureFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	reg, store := newRegistry(t, brokenCache{})

	pt, err := reg.Get(ctx, "leave")
	require.NoError(t, err)
	assert.Equal(t, "leave", pt.Code)
	_, err = reg.Get(ctx, "leave")
	require.NoError(t, err)
	assert.Equal(t, 2, store.gets)
}

func TestRegistryInvalidationFailureIsInternal(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, brokenCache{})
	reg.cache = brokenCache{deleteErr: errCacheDown}

	name := "Renamed"
	_, err := reg.Update(ctx, "leave", ProcessTypePatch{Name: &name})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
}

func TestRegistryWithoutCache(t *testing.T) {
	reg, store := newRegistry(t, nil)
	_, err := reg.Get(context.Background(), "leave")
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets)
}

func TestRegistryCreateValidation(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry(t, cache.NewMemory(0))

	tests := []struct {
		name string
		in   ProcessTypeInput
	}{
		{"duplicate code", ProcessTypeInput{Code: "leave", Name: "Again"}},
		{"uppercase code", ProcessTypeInput{Code: "Leave2", Name: "x"}},
		{"one letter code", ProcessTypeInput{Code: "l", Name: "x"}},
		{"code starts with digit", ProcessTypeInput{Code: "1leave", Name: "x"}},
		{"blank name", ProcessTypeInput{Code: "travel", Name: "  "}},
		{"long name", ProcessTypeInput{Code: "travel", Name: strings.Repeat("名", 201)}},
		{"bad fields", ProcessTypeInput{Code: "travel", Name: "Travel", Fields: []repository.FieldSchema{{Key: "", Label: "x", Kind: repository.FieldText}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Create(ctx, tt.in)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}

	pt, err := reg.Create(ctx, ProcessTypeInput{Code: "travel_2026", Name: strings.Repeat("名", 200)})
	require.NoError(t, err)
	assert.NotNil(t, pt.Fields)
	assert.Empty(t, pt.Fields)
}

func TestRegistryUnknownCode(t *testing.T) {
	reg, _ := newRegistry(t, cache.NewMemory(0))
	_, err := reg.Get(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
	_, err = reg.Update(context.Background(), "missing", ProcessTypePatch{})
	assert.True(t, errors.IsNotFound(err))
}

func TestValidateFieldSchema(t *testing.T) {
	tests := []struct {
		name    string
		fields  []repository.FieldSchema
		wantErr bool
	}{
		{"empty", []repository.FieldSchema{}, false},
		{"all kinds", []repository.FieldSchema{
			{Key: "a", Label: "A", Kind: repository.FieldText},
			{Key: "b", Label: "B", Kind: repository.FieldTextArea},
			{Key: "c", Label: "C", Kind: repository.FieldNumber, Required: true},
			{Key: "d", Label: "D", Kind: repository.FieldDate},
			{Key: "e", Label: "E", Kind: repository.FieldDateTime},
			{Key: "f", Label: "F", Kind: repository.FieldSelect, Options: []string{"x"}},
		}, false},
		{"unknown kind", []repository.FieldSchema{{Key: "a", Label: "A", Kind: "colour"}}, true},
		{"empty label", []repository.FieldSchema{{Key: "a", Label: "", Kind: repository.FieldText}}, true},
		{"long key", []repository.FieldSchema{{Key: strings.Repeat("k", 51), Label: "A", Kind: repository.FieldText}}, true},
		{"duplicate key", []repository.FieldSchema{
			{Key: "a", Label: "A", Kind: repository.FieldText},
			{Key: "a", Label: "Again", Kind: repository.FieldNumber},
		}, true},
		{"select without options", []repository.FieldSchema{{Key: "a", Label: "A", Kind: repository.FieldSelect}}, true},
		{"empty option", []repository.FieldSchema{{Key: "a", Label: "A", Kind: repository.FieldSelect, Options: []string{""}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFieldSchema(tt.fields)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}
