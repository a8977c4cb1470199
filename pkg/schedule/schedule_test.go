package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConfigValidate(t *testing.T) {
	ok := Config{Jobs: []Job{
		{Name: "hourly", Schedule: "0 * * * *", Target: "/src"},
		{Name: "fast", Schedule: "@every 5m", Target: "/src"},
	}}
	assert.NoError(t, ok.Validate())

	bad := Config{Jobs: []Job{{Name: "x", Schedule: "every tuesday", Target: "/src"}}}
	assert.Error(t, bad.Validate())

	dup := Config{Jobs: []Job{
		{Name: "x", Schedule: "@hourly", Target: "/a"},
		{Name: "x", Schedule: "@daily", Target: "/b"},
	}}
	assert.ErrorContains(t, dup.Validate(), "duplicate")
}

func TestAddReplaceRemove(t *testing.T) {
	s := New(func(context.Context, string) error { return nil }, nil)

	require.NoError(t, s.Add(Job{Name: "b", Schedule: "@daily", Target: "/b"}))
	require.NoError(t, s.Add(Job{Name: "a", Schedule: "@hourly", Target: "/a"}))
	require.NoError(t, s.Add(Job{Name: "a", Schedule: "@weekly", Target: "/a2"}))
	assert.Error(t, s.Add(Job{Name: "c", Schedule: "nope", Target: "/c"}))

	s.Start()
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "/a2", jobs[0].Target)
	assert.False(t, jobs[0].Next.IsZero(), "started scheduler computes the next run")

	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Len(t, s.Jobs(), 1)
}

func TestJobsRun(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	var mu sync.Mutex
	var targets []string
	ran := make(chan struct{}, 4)

	s := New(func(_ context.Context, target string) error {
		mu.Lock()
		targets = append(targets, target)
		mu.Unlock()
		ran <- struct{}{}
		return errors.New("scan failed")
	}, logging.NewFromCore(core))
	require.NoError(t, s.Add(Job{Name: "tick", Schedule: "@every 1s", Target: "/src"}))
	s.Start()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
	require.NoError(t, s.Stop(context.Background()))

	mu.Lock()
	assert.Equal(t, "/src", targets[0])
	mu.Unlock()
	entries := logs.FilterMessage("scheduled scan").All()
	require.NotEmpty(t, entries)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "tick", entries[0].ContextMap()["job"])
}

func TestStopCancelsRunningScan(t *testing.T) {
	var cancelled atomic.Bool
	started := make(chan struct{})

	s := New(func(ctx context.Context, _ string) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}, nil)
	require.NoError(t, s.Add(Job{Name: "slow", Schedule: "@every 1s", Target: "/src"}))
	s.Start()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, cancelled.Load())
}
