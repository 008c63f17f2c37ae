package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pesio-ai/be-oa-approvals/internal/cache"
	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/logger"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

const (
	processTypeKeyPrefix = "process_type:"
	activeTypesKey       = "process_types:active"
)

var processTypeCodePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,49}$`)

// fieldsSchema is the JSON Schema every process type's field list must satisfy.
var fieldsSchema = mustSchema(`{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["key", "label", "type"],
		"additionalProperties": false,
		"properties": {
			"key":      {"type": "string", "minLength": 1, "maxLength": 50},
			"label":    {"type": "string", "minLength": 1, "maxLength": 100},
			"type":     {"enum": ["text", "textarea", "number", "date", "datetime", "select"]},
			"required": {"type": "boolean"},
			"options":  {"type": "array", "items": {"type": "string", "minLength": 1}}
		}
	}
}`)

func mustSchema(doc string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(doc))
	if err != nil {
		panic(fmt.Sprintf("invalid field schema document: %v", err))
	}
	return s
}

// ProcessTypeInput is the payload for creating a process type.
type ProcessTypeInput struct {
	Code           string
	Name           string
	Description    string
	RequiresAmount bool
	IsActive       bool
	Fields         []repository.FieldSchema
}

// ProcessTypePatch lists the fields an update may change.
type ProcessTypePatch struct {
	Name           *string
	Description    *string
	RequiresAmount *bool
	IsActive       *bool
	Fields         *[]repository.FieldSchema
}

// ProcessTypeRegistry is a read-through view of the process type catalog.
// Every mutation goes through the registry so the cached entries for the
// changed code and the active list are dropped before the call returns.
//
// Each cache key carries a generation that invalidation bumps. A read-through
// fill only lands if the generation it observed before reading the store is
// still current, so a slow reader cannot put a pre-mutation value back.
type ProcessTypeRegistry struct {
	store ProcessTypeStore
	cache cache.Cache
	log   *logger.Logger

	mu  sync.Mutex
	gen map[string]uint64
}

// NewProcessTypeRegistry creates a new ProcessTypeRegistry.
func NewProcessTypeRegistry(store ProcessTypeStore, c cache.Cache, log *logger.Logger) *ProcessTypeRegistry {
	return &ProcessTypeRegistry{store: store, cache: c, log: log, gen: make(map[string]uint64)}
}

// Get returns the process type with code, active or not.
func (r *ProcessTypeRegistry) Get(ctx context.Context, code string) (*repository.ProcessType, error) {
	key := processTypeKeyPrefix + code

	var cached repository.ProcessType
	if r.read(ctx, key, &cached) {
		return &cached, nil
	}

	gen := r.generation(key)
	pt, err := r.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	r.write(ctx, key, gen, pt)
	return pt, nil
}

// Resolve returns the process type only if it accepts new requests.
func (r *ProcessTypeRegistry) Resolve(ctx context.Context, code string) (*repository.ProcessType, error) {
	pt, err := r.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !pt.IsActive {
		return nil, errors.NotFound("process_type", code)
	}
	return pt, nil
}

// List returns the active process types ordered by id.
func (r *ProcessTypeRegistry) List(ctx context.Context) ([]*repository.ProcessType, error) {
	var cached []*repository.ProcessType
	if r.read(ctx, activeTypesKey, &cached) {
		return cached, nil
	}

	gen := r.generation(activeTypesKey)
	types, err := r.store.List(ctx, true)
	if err != nil {
		return nil, err
	}
	r.write(ctx, activeTypesKey, gen, types)
	return types, nil
}

// ListAll returns every process type, bypassing the cache.
func (r *ProcessTypeRegistry) ListAll(ctx context.Context) ([]*repository.ProcessType, error) {
	return r.store.List(ctx, false)
}

// Create validates and stores a new process type.
func (r *ProcessTypeRegistry) Create(ctx context.Context, in ProcessTypeInput) (*repository.ProcessType, error) {
	code := strings.TrimSpace(in.Code)
	if !processTypeCodePattern.MatchString(code) {
		return nil, errors.InvalidInput("code", "code must start with a lowercase letter and contain 2-50 of [a-z0-9_]")
	}
	name := strings.TrimSpace(in.Name)
	if err := validateName("name", name, 200); err != nil {
		return nil, err
	}
	fields := in.Fields
	if fields == nil {
		fields = []repository.FieldSchema{}
	}
	if err := ValidateFieldSchema(fields); err != nil {
		return nil, err
	}

	pt := &repository.ProcessType{
		Code:           code,
		Name:           name,
		Description:    strings.TrimSpace(in.Description),
		RequiresAmount: in.RequiresAmount,
		IsActive:       in.IsActive,
		Fields:         fields,
	}
	if err := r.store.Create(ctx, pt); err != nil {
		return nil, err
	}
	if err := r.invalidate(ctx, code); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("code", pt.Code).
		Int("fields", len(pt.Fields)).
		Msg("Process type created")

	return pt, nil
}

// Update applies patch to the process type with code.
func (r *ProcessTypeRegistry) Update(ctx context.Context, code string, patch ProcessTypePatch) (*repository.ProcessType, error) {
	pt, err := r.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if err := validateName("name", name, 200); err != nil {
			return nil, err
		}
		pt.Name = name
	}
	if patch.Description != nil {
		pt.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.RequiresAmount != nil {
		pt.RequiresAmount = *patch.RequiresAmount
	}
	if patch.IsActive != nil {
		pt.IsActive = *patch.IsActive
	}
	if patch.Fields != nil {
		fields := *patch.Fields
		if fields == nil {
			fields = []repository.FieldSchema{}
		}
		if err := ValidateFieldSchema(fields); err != nil {
			return nil, err
		}
		pt.Fields = fields
	}

	if err := r.store.Update(ctx, pt); err != nil {
		return nil, err
	}
	if err := r.invalidate(ctx, code); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("code", pt.Code).
		Bool("is_active", pt.IsActive).
		Msg("Process type updated")

	return pt, nil
}

// ValidateFieldSchema checks a field list against the schema document and the
// rules JSON Schema cannot express: unique keys and non-empty select options.
func ValidateFieldSchema(fields []repository.FieldSchema) error {
	result, err := fieldsSchema.Validate(gojsonschema.NewGoLoader(fields))
	if err != nil {
		return errors.InvalidInput("fields", err.Error())
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return errors.InvalidInput("fields", fmt.Sprintf("%s: %s", first.Field(), first.Description()))
	}

	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if seen[f.Key] {
			return errors.InvalidInput("fields", fmt.Sprintf("%d.key: duplicate field key %q", i, f.Key))
		}
		seen[f.Key] = true
		if f.Kind == repository.FieldSelect && len(f.Options) == 0 {
			return errors.InvalidInput("fields", fmt.Sprintf("%d.options: select field %q needs at least one option", i, f.Key))
		}
	}
	return nil
}

func (r *ProcessTypeRegistry) invalidate(ctx context.Context, code string) error {
	if r.cache == nil {
		return nil
	}
	keys := []string{processTypeKeyPrefix + code, activeTypesKey}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		r.gen[key]++
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to invalidate process type cache")
	}
	return nil
}

// read reports a cache hit. Cache failures fall back to the store.
func (r *ProcessTypeRegistry) read(ctx context.Context, key string, dst any) bool {
	if r.cache == nil {
		return false
	}
	found, err := r.cache.Get(ctx, key, dst)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("process type cache read failed")
		return false
	}
	return found
}

func (r *ProcessTypeRegistry) generation(key string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen[key]
}

// write fills key unless it was invalidated after gen was observed.
func (r *ProcessTypeRegistry) write(ctx context.Context, key string, gen uint64, value any) {
	if r.cache == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen[key] != gen {
		return
	}
	if err := r.cache.Set(ctx, key, value); err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("process type cache write failed")
	}
}

func validateName(field, value string, max int) error {
	if value == "" {
		return errors.InvalidInput(field, fmt.Sprintf("%s is required", field))
	}
	if len([]rune(value)) > max {
		return errors.InvalidInput(field, fmt.Sprintf("%s must be at most %d characters", field, max))
	}
	return nil
}
