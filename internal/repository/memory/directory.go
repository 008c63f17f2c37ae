package memory

import (
	"context"
	"sort"

	"github.com/pesio-ai/be-oa-approvals/internal/errors"
	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// ── Process types ─────────────────────────────────────────────────────────────

type ProcessTypeRepository struct{ s *Store }

func (r *ProcessTypeRepository) Create(_ context.Context, pt *repository.ProcessType) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.processTypes[pt.Code]; exists {
		return errors.InvalidInput("code", "process type code already exists")
	}
	pt.ID = r.s.nextID("process_types")
	pt.CreatedAt = r.s.now()
	pt.UpdatedAt = pt.CreatedAt
	r.s.processTypes[pt.Code] = copyProcessType(pt)
	return nil
}

func (r *ProcessTypeRepository) GetByCode(_ context.Context, code string) (*repository.ProcessType, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	pt, ok := r.s.processTypes[code]
	if !ok {
		return nil, errors.NotFound("process_type", code)
	}
	return copyProcessType(pt), nil
}

func (r *ProcessTypeRepository) List(_ context.Context, activeOnly bool) ([]*repository.ProcessType, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.ProcessType
	for _, pt := range r.s.processTypes {
		if activeOnly && !pt.IsActive {
			continue
		}
		out = append(out, copyProcessType(pt))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ProcessTypeRepository) Update(_ context.Context, pt *repository.ProcessType) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.processTypes[pt.Code]
	if !ok {
		return errors.NotFound("process_type", pt.Code)
	}
	pt.ID = existing.ID
	pt.CreatedAt = existing.CreatedAt
	pt.UpdatedAt = r.s.now()
	r.s.processTypes[pt.Code] = copyProcessType(pt)
	return nil
}

// ── Positions ─────────────────────────────────────────────────────────────────

type PositionRepository struct{ s *Store }

func (r *PositionRepository) Create(_ context.Context, p *repository.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.positions {
		if existing.Name == p.Name {
			return errors.InvalidInput("name", "position name already exists")
		}
	}
	p.ID = repository.PositionID(r.s.nextID("positions"))
	p.CreatedAt = r.s.now()
	c := *p
	r.s.positions[p.ID] = &c
	return nil
}

func (r *PositionRepository) GetByID(_ context.Context, id repository.PositionID) (*repository.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.positions[id]
	if !ok {
		return nil, errors.NotFound("position", id)
	}
	c := *p
	return &c, nil
}

func (r *PositionRepository) GetByName(_ context.Context, name string) (*repository.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, p := range r.s.positions {
		if p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, errors.NotFound("position", name)
}

func (r *PositionRepository) List(_ context.Context) ([]*repository.Position, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*repository.Position, 0, len(r.s.positions))
	for _, p := range r.s.positions {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Departments ───────────────────────────────────────────────────────────────

type DepartmentRepository struct{ s *Store }

func (r *DepartmentRepository) Create(_ context.Context, d *repository.Department) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.departments {
		if existing.Name == d.Name {
			return errors.InvalidInput("name", "department name already exists")
		}
	}
	d.ID = r.s.nextID("departments")
	d.CreatedAt = r.s.now()
	c := *d
	r.s.departments[d.ID] = &c
	return nil
}

func (r *DepartmentRepository) GetByID(_ context.Context, id int64) (*repository.Department, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	d, ok := r.s.departments[id]
	if !ok {
		return nil, errors.NotFound("department", id)
	}
	c := *d
	return &c, nil
}

func (r *DepartmentRepository) List(_ context.Context) ([]*repository.Department, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*repository.Department, 0, len(r.s.departments))
	for _, d := range r.s.departments {
		c := *d
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ── Users ─────────────────────────────────────────────────────────────────────

type UserRepository struct{ s *Store }

func (r *UserRepository) Create(_ context.Context, u *repository.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.users {
		if existing.Username == u.Username {
			return errors.InvalidInput("username", "username already exists")
		}
	}
	u.ID = r.s.nextID("users")
	u.CreatedAt = r.s.now()
	r.s.users[u.ID] = copyUser(u)
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*repository.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, errors.NotFound("user", id)
	}
	return copyUser(u), nil
}

func (r *UserRepository) GetByUsername(_ context.Context, username string) (*repository.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, u := range r.s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, errors.NotFound("user", username)
}

func (r *UserRepository) List(_ context.Context) ([]*repository.User, error) {
	return r.filter(func(*repository.User) bool { return true }), nil
}

func (r *UserRepository) ListActiveByPosition(_ context.Context, positionID repository.PositionID) ([]*repository.User, error) {
	return r.filter(func(u *repository.User) bool {
		return u.IsActive && u.PositionID != nil && *u.PositionID == positionID
	}), nil
}

func (r *UserRepository) Update(_ context.Context, u *repository.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.users[u.ID]
	if !ok {
		return errors.NotFound("user", u.ID)
	}
	updated := copyUser(u)
	updated.Username = existing.Username
	updated.PasswordHash = existing.PasswordHash
	updated.CreatedAt = existing.CreatedAt
	r.s.users[u.ID] = updated
	return nil
}

func (r *UserRepository) SetPassword(_ context.Context, id int64, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return errors.NotFound("user", id)
	}
	u.PasswordHash = hash
	return nil
}

func (r *UserRepository) filter(keep func(*repository.User) bool) []*repository.User {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.User
	for _, u := range r.s.users {
		if keep(u) {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ── Announcements ─────────────────────────────────────────────────────────────

type AnnouncementRepository struct{ s *Store }

func (r *AnnouncementRepository) Create(_ context.Context, a *repository.Announcement) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a.ID = r.s.nextID("announcements")
	a.CreatedAt = r.s.now()
	c := *a
	r.s.announcements = append(r.s.announcements, &c)
	return nil
}

func (r *AnnouncementRepository) List(_ context.Context) ([]*repository.Announcement, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*repository.Announcement, 0, len(r.s.announcements))
	for i := len(r.s.announcements) - 1; i >= 0; i-- {
		c := *r.s.announcements[i]
		out = append(out, &c)
	}
	return out, nil
}
