package jobs

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonflow/ai-engine/pkg/carbonverify/config"
)

type fakeCleaner struct {
	calls     int
	retention int
	err       error
}

func (f *fakeCleaner) Cleanup(_ context.Context, retentionDays int) (int64, error) {
	f.calls++
	f.retention = retentionDays
	return 3, f.err
}

type fakeModel struct{ ready bool }

func (f fakeModel) Ready() bool { return f.ready }

func TestStartRejectsBadSchedule(t *testing.T) {
	r := New(config.JobsConfig{CleanupSchedule: "not a schedule"}, 30, &fakeCleaner{}, nil)
	assert.Error(t, r.Start())
}

func TestStartAndStop(t *testing.T) {
	r := New(config.JobsConfig{
		CleanupSchedule:   "0 3 * * *",
		HealthLogSchedule: "*/15 * * * *",
	}, 30, &fakeCleaner{}, map[string]HealthReporter{"carbon_predictor": fakeModel{ready: true}})

	require.NoError(t, r.Start())
	r.Stop()
}

func TestRunCleanupInvokesCleaner(t *testing.T) {
	cleaner := &fakeCleaner{}
	r := New(config.JobsConfig{}, 45, cleaner, nil)

	r.runCleanup()
	assert.Equal(t, 1, cleaner.calls)
	assert.Equal(t, 45, cleaner.retention)
}

func TestRunCleanupSurvivesErrors(t *testing.T) {
	cleaner := &fakeCleaner{err: fmt.Errorf("locked")}
	r := New(config.JobsConfig{}, 30, cleaner, nil)

	r.runCleanup()
	assert.Equal(t, 1, cleaner.calls)
}
