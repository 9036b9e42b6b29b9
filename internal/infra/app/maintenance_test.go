package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type fakePruner struct {
	retention time.Duration
	calls     int
	err       error
}

func (f *fakePruner) PruneEvents(_ context.Context, retention time.Duration) (int, error) {
	f.calls++
	f.retention = retention
	return 3, f.err
}

type fakeEvictor struct {
	calls int
}

func (f *fakeEvictor) Evict() bool {
	f.calls++
	return true
}

func TestMaintenanceRegistersJobs(t *testing.T) {
	m, err := NewMaintenance(MaintenanceConfig{
		Retention:     90 * 24 * time.Hour,
		PruneSchedule: "@daily",
		EvictSchedule: "@every 5m",
	}, &fakePruner{}, &fakeEvictor{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewMaintenance returned error: %v", err)
	}
	if got := len(m.cron.Entries()); got != 2 {
		t.Fatalf("expected 2 jobs, got %d", got)
	}
}

func TestMaintenanceSkipsDisabledJobs(t *testing.T) {
	m, err := NewMaintenance(MaintenanceConfig{PruneSchedule: "@daily"}, &fakePruner{}, nil, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewMaintenance returned error: %v", err)
	}
	if got := len(m.cron.Entries()); got != 0 {
		t.Fatalf("expected no jobs without retention or evictor, got %d", got)
	}
}

func TestMaintenanceRejectsBadSchedule(t *testing.T) {
	_, err := NewMaintenance(MaintenanceConfig{Retention: time.Hour, PruneSchedule: "every day"}, &fakePruner{}, nil, zaptest.NewLogger(t))
	if err == nil {
		t.Fatalf("expected schedule parse error")
	}
}

func TestMaintenanceJobs(t *testing.T) {
	pruner := &fakePruner{}
	evictor := &fakeEvictor{}
	m, err := NewMaintenance(MaintenanceConfig{Retention: 48 * time.Hour}, pruner, evictor, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewMaintenance returned error: %v", err)
	}

	m.PruneEvents()
	if pruner.calls != 1 || pruner.retention != 48*time.Hour {
		t.Fatalf("unexpected prune call %+v", pruner)
	}

	pruner.err = errors.New("db down")
	m.PruneEvents()

	m.EvictPolicies()
	if evictor.calls != 1 {
		t.Fatalf("expected evict call")
	}

	m.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Stop(ctx)
}
