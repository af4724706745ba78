// Package location stores live position reports: participants of a shared
// map session and tracked employees.
//
// Layout:
//
//	session:<sid>:created           room marker (creation time, unix ms)
//	session:<sid>:user:<uid>        latest model.Location of a participant
//	employee:<id>:latest            latest model.EmployeeLocation
//	employee:<id>:history           capped list of past positions, newest first
package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/idgen"
	"github.com/alfredjeanlab/mapstate/internal/keys"
	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/model"
)

// ErrInvalidReport wraps validation failures of a position report.
var ErrInvalidReport = errors.New("location: invalid report")

// DefaultHistory is the number of past employee positions kept.
const DefaultHistory = 100

// Service reads and writes position reports.
type Service struct {
	store     kv.Store
	history   int
	listLimit int
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHistory sets how many past employee positions are kept.
func WithHistory(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.history = n
		}
	}
}

// WithListLimit bounds how many keys a roster or employee listing scans.
func WithListLimit(n int) Option {
	return func(s *Service) { s.listLimit = n }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a Service backed by store.
func New(store kv.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		history:   DefaultHistory,
		listLimit: kv.DefaultListLimit,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RosterEntry is a participant's last report with its age.
type RosterEntry struct {
	model.Location
	IdleSecs float64 `json:"idleSecs"`
}

// CreateRoom allocates a new room ID and writes its marker.
func (s *Service) CreateRoom(ctx context.Context) (string, error) {
	sid, err := idgen.Generate()
	if err != nil {
		return "", fmt.Errorf("generating session id: %w", err)
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.store.Put(ctx, keys.Join("session", sid, "created"), []byte(ts)); err != nil {
		return "", fmt.Errorf("creating session %s: %w", sid, err)
	}
	return sid, nil
}

// Report stores the latest position of a participant in room sid. A zero
// timestamp is filled in with the current time.
func (s *Service) Report(ctx context.Context, sid string, loc *model.Location) error {
	if strings.TrimSpace(sid) == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidReport)
	}
	if err := model.ValidateLocation(loc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	if loc.Timestamp == 0 {
		loc.Timestamp = s.now().UnixMilli()
	}
	data, err := json.Marshal(loc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if err := s.store.Put(ctx, keys.Join("session", sid, "user", loc.UserID), data); err != nil {
		return fmt.Errorf("storing location: %w", err)
	}
	return nil
}

// Roster returns every participant of room sid, most recent first.
// Reports older than staleAfter are left out; pass 0 to include all.
func (s *Service) Roster(ctx context.Context, sid string, staleAfter time.Duration) ([]RosterEntry, error) {
	var found []string
	for key, err := range s.store.Keys(ctx, keys.JoinPrefix("session", sid, "user"), s.listLimit) {
		if err != nil {
			return nil, fmt.Errorf("listing session %s: %w", sid, err)
		}
		found = append(found, key)
	}
	entries, err := kv.MGetAll(ctx, s.store, found)
	if err != nil {
		return nil, fmt.Errorf("reading session %s: %w", sid, err)
	}

	now := s.now()
	out := make([]RosterEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Found {
			continue
		}
		var loc model.Location
		if err := json.Unmarshal(e.Value, &loc); err != nil {
			continue
		}
		idle := now.Sub(loc.Time())
		if staleAfter > 0 && idle > staleAfter {
			continue
		}
		out = append(out, RosterEntry{Location: loc, IdleSecs: max(idle.Seconds(), 0)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp > out[j].Timestamp
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// ReportEmployee stores an employee's latest position and appends it to
// the capped history.
func (s *Service) ReportEmployee(ctx context.Context, loc *model.EmployeeLocation) error {
	if err := model.ValidateEmployeeLocation(loc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidReport, err)
	}
	if loc.TS == 0 {
		loc.TS = s.now().UnixMilli()
	}
	stored := *loc
	stored.EmployeeID = ""
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReport, err)
	}
	if err := s.store.Put(ctx, keys.Join("employee", loc.EmployeeID, "latest"), data); err != nil {
		return fmt.Errorf("storing employee location: %w", err)
	}
	if err := s.store.PushCapped(ctx, keys.Join("employee", loc.EmployeeID, "history"), data, s.history); err != nil {
		return fmt.Errorf("appending employee history: %w", err)
	}
	return nil
}

// Employees returns the latest position of every employee, sorted by ID.
func (s *Service) Employees(ctx context.Context) ([]model.EmployeeLocation, error) {
	var ids, found []string
	for key, err := range s.store.Keys(ctx, keys.JoinPrefix("employee"), s.listLimit) {
		if err != nil {
			return nil, fmt.Errorf("listing employees: %w", err)
		}
		parts := keys.Split(key)
		if len(parts) != 3 || parts[2] != "latest" {
			continue
		}
		ids = append(ids, parts[1])
		found = append(found, key)
	}
	entries, err := kv.MGetAll(ctx, s.store, found)
	if err != nil {
		return nil, fmt.Errorf("reading employees: %w", err)
	}

	out := make([]model.EmployeeLocation, 0, len(entries))
	for i, e := range entries {
		if !e.Found {
			continue
		}
		var loc model.EmployeeLocation
		if err := json.Unmarshal(e.Value, &loc); err != nil {
			continue
		}
		loc.EmployeeID = ids[i]
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out, nil
}

// History returns up to n past positions of employee id, newest first.
func (s *Service) History(ctx context.Context, id string, n int) ([]model.EmployeeLocation, error) {
	if n <= 0 || n > s.history {
		n = s.history
	}
	items, err := s.store.Range(ctx, keys.Join("employee", id, "history"), n)
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", id, err)
	}
	out := make([]model.EmployeeLocation, 0, len(items))
	for _, item := range items {
		var loc model.EmployeeLocation
		if err := json.Unmarshal(item, &loc); err != nil {
			continue
		}
		loc.EmployeeID = id
		out = append(out, loc)
	}
	return out, nil
}
