package location

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alfredjeanlab/mapstate/internal/kv"
	"github.com/alfredjeanlab/mapstate/internal/model"
)

var epoch = time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) (*Service, *kv.BoltStore, *time.Time) {
	t.Helper()
	store, err := kv.NewBoltStore(kv.BoltConfig{Path: filepath.Join(t.TempDir(), "kv.db"), NoSync: true})
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	now := epoch
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return New(store, opts...), store, &now
}

func TestCreateRoom(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	sid, err := svc.CreateRoom(ctx)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	got, err := store.Get(ctx, "session:"+sid+":created")
	if err != nil {
		t.Fatalf("room marker missing: %v", err)
	}
	if string(got) != fmt.Sprint(epoch.UnixMilli()) {
		t.Errorf("marker = %s", got)
	}
}

func TestReportAndRoster(t *testing.T) {
	svc, store, now := newTestService(t)
	ctx := context.Background()

	reports := []model.Location{
		{UserID: "u1", Nickname: "Ann", Lat: 52.5, Lng: 13.4, Timestamp: epoch.Add(-90 * time.Second).UnixMilli()},
		{UserID: "u2", Nickname: "Ben", Lat: 48.1, Lng: 11.6},
		{UserID: "u3", Nickname: "Cy", Lat: 0, Lng: 0, Timestamp: epoch.Add(-time.Hour).UnixMilli()},
	}
	for i := range reports {
		if err := svc.Report(ctx, "room1", &reports[i]); err != nil {
			t.Fatalf("Report(%s): %v", reports[i].UserID, err)
		}
	}
	if reports[1].Timestamp != epoch.UnixMilli() {
		t.Errorf("missing timestamp not filled: %d", reports[1].Timestamp)
	}
	if _, err := store.Get(ctx, "session:room1:user:u1"); err != nil {
		t.Fatalf("report key missing: %v", err)
	}
	// Another room must not show up.
	if err := svc.Report(ctx, "room2", &model.Location{UserID: "u9", Lat: 1, Lng: 1}); err != nil {
		t.Fatalf("Report: %v", err)
	}

	*now = epoch.Add(10 * time.Second)

	all, err := svc.Roster(ctx, "room1", 0)
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	var ids []string
	for _, e := range all {
		ids = append(ids, e.UserID)
	}
	if fmt.Sprint(ids) != "[u2 u1 u3]" {
		t.Errorf("roster order = %v, want [u2 u1 u3]", ids)
	}
	if all[0].IdleSecs != 10 {
		t.Errorf("idle = %v, want 10", all[0].IdleSecs)
	}

	fresh, err := svc.Roster(ctx, "room1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(fresh) != 2 {
		t.Errorf("fresh roster has %d entries, want 2", len(fresh))
	}

	empty, err := svc.Roster(ctx, "nobody", 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty room = (%v, %v)", empty, err)
	}
}

func TestReport_Overwrites(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, lat := range []float64{10, 20} {
		if err := svc.Report(ctx, "r", &model.Location{UserID: "u1", Lat: lat, Lng: 1}); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}
	roster, err := svc.Roster(ctx, "r", 0)
	if err != nil {
		t.Fatalf("Roster: %v", err)
	}
	if len(roster) != 1 || roster[0].Lat != 20 {
		t.Errorf("roster = %+v, want single latest report", roster)
	}
}

func TestReport_Invalid(t *testing.T) {
	svc, _, _ := newTestService(t)
	tests := []struct {
		name string
		sid  string
		loc  model.Location
	}{
		{"no session", "", model.Location{UserID: "u", Lat: 1, Lng: 1}},
		{"no user", "r", model.Location{Lat: 1, Lng: 1}},
		{"lat range", "r", model.Location{UserID: "u", Lat: -91, Lng: 1}},
		{"lng range", "r", model.Location{UserID: "u", Lat: 1, Lng: 181}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Report(context.Background(), tt.sid, &tt.loc)
			if !errors.Is(err, ErrInvalidReport) {
				t.Fatalf("Report = %v, want ErrInvalidReport", err)
			}
		})
	}
}

func TestEmployees(t *testing.T) {
	svc, store, now := newTestService(t, WithHistory(3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		*now = epoch.Add(time.Duration(i) * time.Minute)
		if err := svc.ReportEmployee(ctx, &model.EmployeeLocation{EmployeeID: "e1", Latitude: float64(i), Longitude: 1}); err != nil {
			t.Fatalf("ReportEmployee: %v", err)
		}
	}
	if err := svc.ReportEmployee(ctx, &model.EmployeeLocation{EmployeeID: "e0", Latitude: 9, Longitude: 9, TS: 42}); err != nil {
		t.Fatalf("ReportEmployee: %v", err)
	}

	raw, err := store.Get(ctx, "employee:e1:latest")
	if err != nil {
		t.Fatalf("latest key missing: %v", err)
	}
	want := fmt.Sprintf(`{"latitude":4,"longitude":1,"ts":%d}`, epoch.Add(4*time.Minute).UnixMilli())
	if string(raw) != want {
		t.Errorf("stored latest = %s, want %s", raw, want)
	}

	emps, err := svc.Employees(ctx)
	if err != nil {
		t.Fatalf("Employees: %v", err)
	}
	if len(emps) != 2 || emps[0].EmployeeID != "e0" || emps[1].EmployeeID != "e1" {
		t.Fatalf("employees = %+v", emps)
	}
	if emps[0].TS != 42 || emps[1].Latitude != 4 {
		t.Errorf("employees = %+v", emps)
	}

	hist, err := svc.History(ctx, "e1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 3 || hist[0].Latitude != 4 || hist[2].Latitude != 2 {
		t.Errorf("history = %+v, want newest three", hist)
	}
	one, _ := svc.History(ctx, "e1", 1)
	if len(one) != 1 || one[0].EmployeeID != "e1" {
		t.Errorf("History(1) = %+v", one)
	}
	none, err := svc.History(ctx, "ghost", 5)
	if err != nil || len(none) != 0 {
		t.Errorf("History(ghost) = (%v, %v)", none, err)
	}
}

func TestReportEmployee_Invalid(t *testing.T) {
	svc, _, _ := newTestService(t)
	err := svc.ReportEmployee(context.Background(), &model.EmployeeLocation{Latitude: 100})
	if !errors.Is(err, ErrInvalidReport) {
		t.Fatalf("ReportEmployee = %v, want ErrInvalidReport", err)
	}
	var ve *model.ValidationError
	if !errors.As(err, &ve) || len(ve.Errors) != 2 {
		t.Errorf("expected two field errors, got %v", err)
	}
}
