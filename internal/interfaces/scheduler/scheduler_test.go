package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/refresh"
)

func TestParseScheduleTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ScheduleTime
		wantErr bool
	}{
		{in: "05:00", want: ScheduleTime{Hour: 5}},
		{in: "23:59", want: ScheduleTime{Hour: 23, Minute: 59}},
		{in: "0:7", want: ScheduleTime{Minute: 7}},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "12", wantErr: true},
		{in: "12:00pm", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseScheduleTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseScheduleTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseScheduleTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if s := (ScheduleTime{Hour: 5, Minute: 3}).String(); s != "05:03" {
		t.Errorf("String() = %q, want 05:03", s)
	}
}

func noJobs(context.Context) ([]Job, error) { return nil, nil }

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name    string
		config  SchedulerConfig
		wantErr bool
	}{
		{"enabled", SchedulerConfig{Enabled: true, ScheduleTimes: []string{"05:00"}, JobProvider: noJobs}, false},
		{"disabled without times", SchedulerConfig{JobProvider: noJobs}, false},
		{"enabled without times", SchedulerConfig{Enabled: true, JobProvider: noJobs}, true},
		{"bad time", SchedulerConfig{Enabled: true, ScheduleTimes: []string{"25:00"}, JobProvider: noJobs}, true},
		{"no provider", SchedulerConfig{Enabled: true, ScheduleTimes: []string{"05:00"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewScheduler() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScheduler_ShouldRun(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{Enabled: true, ScheduleTimes: []string{"05:00", "14:30"}, JobProvider: noJobs})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	at := func(day, hour, minute, sec int) time.Time {
		return time.Date(2026, 3, day, hour, minute, sec, 0, time.UTC)
	}

	steps := []struct {
		now  time.Time
		want bool
	}{
		{at(1, 4, 59, 0), false},
		{at(1, 5, 0, 0), true},
		{at(1, 5, 0, 30), false}, // same minute fires once
		{at(1, 14, 30, 0), true},
		{at(2, 5, 0, 0), true},
	}
	for _, step := range steps {
		if got := s.shouldRun(step.now); got != step.want {
			t.Errorf("shouldRun(%s) = %v, want %v", step.now.Format(time.DateTime), got, step.want)
		}
	}
}

func TestScheduler_NextRun(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{Enabled: true, ScheduleTimes: []string{"14:00", "05:00"}, JobProvider: noJobs})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 1, 5, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)},
		{time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC), time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		now := tt.now
		s.now = func() time.Time { return now }
		if got := s.NextRun(); !got.Equal(tt.want) {
			t.Errorf("NextRun() at %s = %s, want %s", now.Format(time.DateTime), got, tt.want)
		}
	}
}

func TestScheduler_RunNow(t *testing.T) {
	syncer := &MockSyncer{}
	lister := &MockLister{ConnectionsFunc: func(ctx context.Context, name string) ([]*connection.InstitutionConnection, error) {
		switch name {
		case "teller":
			return []*connection.InstitutionConnection{
				{ID: 1, ProviderName: "teller", UserID: "user-1"},
				{ID: 2, ProviderName: "teller", UserID: "user-2", Broken: true},
			}, nil
		case "vezgo":
			return []*connection.InstitutionConnection{{ID: 3, ProviderName: "vezgo", UserID: "user-1"}}, nil
		}
		return nil, nil
	}}

	s, err := NewScheduler(SchedulerConfig{
		QueueSize:   10,
		JobProvider: ConnectionJobs(lister, syncer, []string{"teller", "vezgo", "enablebanking"}),
	})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	queued, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if queued != 2 {
		t.Errorf("RunNow() = %d, want 2 (broken connection skipped)", queued)
	}

	s.Start()
	s.Shutdown(2 * time.Second)

	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if len(syncer.Synced) != 2 {
		t.Errorf("synced connections = %v, want 2 entries", syncer.Synced)
	}
}

func TestScheduler_RunNowProviderError(t *testing.T) {
	s, err := NewScheduler(SchedulerConfig{
		QueueSize: 10,
		JobProvider: func(context.Context) ([]Job, error) {
			return nil, errors.New("db down")
		},
	})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	if _, err := s.RunNow(context.Background()); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("RunNow() error = %v, want db down", err)
	}
}

func TestConnectionSyncJob_Execute(t *testing.T) {
	ic := &connection.InstitutionConnection{ID: 7, ProviderName: "teller", UserID: "user-1"}

	tests := []struct {
		name    string
		result  *refresh.SyncResult
		err     error
		wantErr bool
	}{
		{name: "clean", result: &refresh.SyncResult{Accounts: 2, Errors: []string{}}},
		{name: "partial failure", result: &refresh.SyncResult{Errors: []string{"account acc-1: boom"}}, wantErr: true},
		{name: "failure", err: errors.New("vendor down"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			syncer := &MockSyncer{SyncConnectionFunc: func(ctx context.Context, _ *connection.InstitutionConnection) (*refresh.SyncResult, error) {
				return tt.result, tt.err
			}}
			job := NewConnectionSyncJob(syncer, ic)

			if err := job.Execute(context.Background()); (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
			if job.Key() != "connection:7" {
				t.Errorf("Key() = %q", job.Key())
			}
		})
	}
}
