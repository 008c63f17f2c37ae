// Package memory is an in-process implementation of the repository contracts,
// used by tests and by the "memory" store driver. Every read returns a copy so
// callers never alias stored state.
package memory

import (
	"sync"
	"time"

	"github.com/pesio-ai/be-oa-approvals/internal/repository"
)

// Store holds all tables. mu guards the maps and is only held for short
// copy-in/copy-out sections; read-modify-write sequences additionally take a
// keyed lock (per request id or per process type code).
type Store struct {
	mu  sync.RWMutex
	seq map[string]int64

	processTypes  map[string]*repository.ProcessType
	positions     map[repository.PositionID]*repository.Position
	departments   map[int64]*repository.Department
	users         map[int64]*repository.User
	workflows     map[int64]*repository.Workflow
	workflowNodes map[int64]*repository.WorkflowNode
	requests      map[int64]*repository.Request
	requestNodes  map[int64][]*repository.RequestNode
	history       map[int64][]*repository.HistoryEntry
	announcements []*repository.Announcement

	locks *keyedMutex
	now   func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		seq:           map[string]int64{},
		processTypes:  map[string]*repository.ProcessType{},
		positions:     map[repository.PositionID]*repository.Position{},
		departments:   map[int64]*repository.Department{},
		users:         map[int64]*repository.User{},
		workflows:     map[int64]*repository.Workflow{},
		workflowNodes: map[int64]*repository.WorkflowNode{},
		requests:      map[int64]*repository.Request{},
		requestNodes:  map[int64][]*repository.RequestNode{},
		history:       map[int64][]*repository.HistoryEntry{},
		locks:         newKeyedMutex(),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) ProcessTypes() *ProcessTypeRepository   { return &ProcessTypeRepository{s: s} }
func (s *Store) Positions() *PositionRepository         { return &PositionRepository{s: s} }
func (s *Store) Departments() *DepartmentRepository     { return &DepartmentRepository{s: s} }
func (s *Store) Users() *UserRepository                 { return &UserRepository{s: s} }
func (s *Store) Workflows() *WorkflowRepository         { return &WorkflowRepository{s: s} }
func (s *Store) Requests() *RequestRepository           { return &RequestRepository{s: s} }
func (s *Store) History() *HistoryRepository            { return &HistoryRepository{s: s} }
func (s *Store) Announcements() *AnnouncementRepository { return &AnnouncementRepository{s: s} }

// nextID must be called with mu held for writing.
func (s *Store) nextID(table string) int64 {
	s.seq[table]++
	return s.seq[table]
}

// ── keyed locks ───────────────────────────────────────────────────────────────

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*refMutex{}}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// ── copy helpers ──────────────────────────────────────────────────────────────

func copyProcessType(pt *repository.ProcessType) *repository.ProcessType {
	c := *pt
	c.Fields = make([]repository.FieldSchema, len(pt.Fields))
	for i, f := range pt.Fields {
		f.Options = append([]string(nil), f.Options...)
		c.Fields[i] = f
	}
	return &c
}

func copyUser(u *repository.User) *repository.User {
	c := *u
	if u.DepartmentID != nil {
		d := *u.DepartmentID
		c.DepartmentID = &d
	}
	if u.PositionID != nil {
		p := *u.PositionID
		c.PositionID = &p
	}
	return &c
}

func copyRequest(r *repository.Request) *repository.Request {
	c := *r
	if r.Amount != nil {
		a := *r.Amount
		c.Amount = &a
	}
	if r.WorkflowID != nil {
		w := *r.WorkflowID
		c.WorkflowID = &w
	}
	c.FormData = make(map[string]any, len(r.FormData))
	for k, v := range r.FormData {
		c.FormData[k] = v
	}
	return &c
}

func copyNode(n *repository.RequestNode) *repository.RequestNode {
	c := *n
	if n.TemplateNodeID != nil {
		t := *n.TemplateNodeID
		c.TemplateNodeID = &t
	}
	if n.DecidedByUserID != nil {
		u := *n.DecidedByUserID
		c.DecidedByUserID = &u
	}
	if n.DecidedAt != nil {
		at := *n.DecidedAt
		c.DecidedAt = &at
	}
	return &c
}

func copyNodes(nodes []*repository.RequestNode) []*repository.RequestNode {
	out := make([]*repository.RequestNode, len(nodes))
	for i, n := range nodes {
		out[i] = copyNode(n)
	}
	return out
}
