package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-archmap/pkg/diff"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
)

func TestEncodeDecode(t *testing.T) {
	e := Event{
		Topic:    TopicDiffComputed,
		ScanID:   "scan-b",
		TargetID: "abc",
		Time:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Previous: "scan-a",
		Diff:     &diff.Summary{EntitiesAdded: 2},
		Findings: map[finding.Severity]int{finding.SeverityHigh: 1},
	}
	msg, err := e.Encode()
	require.NoError(t, err)
	assert.Equal(t, "diff.computed:{", string(msg[:15]))

	got, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = Decode([]byte("no prefix"))
	assert.Error(t, err)
	_, err = Decode([]byte(`scan.failed:{"topic":"scan.completed"}`))
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	p, err := Open(Config{}, nil)
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), Event{Topic: TopicScanCompleted}))
	assert.NoError(t, p.Close())
}

func TestPublishSubscribe(t *testing.T) {
	addr := fmt.Sprintf("inproc://archmap-notify-%d", time.Now().UnixNano())
	p, err := NewPublisher(Config{Address: addr, BufferSize: 8}, nil)
	require.NoError(t, err)
	defer p.Close()

	s, err := Subscribe(addr, TopicScanCompleted)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A subscriber only sees messages sent after its connection is up, so
	// keep publishing until one arrives.
	got := make(chan Event, 1)
	errs := make(chan error, 1)
	go func() {
		e, err := s.Next(ctx)
		if err != nil {
			errs <- err
			return
		}
		got <- e
	}()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case e := <-got:
			assert.Equal(t, TopicScanCompleted, e.Topic)
			assert.Equal(t, "scan-1", e.ScanID)
			assert.False(t, e.Time.IsZero())
			return
		case err := <-errs:
			t.Fatalf("subscriber: %v", err)
		case <-ticker.C:
			require.NoError(t, p.Publish(ctx, Event{Topic: TopicScanFailed, TargetID: "t"}))
			require.NoError(t, p.Publish(ctx, Event{Topic: TopicScanCompleted, ScanID: "scan-1", TargetID: "t"}))
		}
	}
}

func TestPublisherClose(t *testing.T) {
	addr := fmt.Sprintf("inproc://archmap-close-%d", time.Now().UnixNano())
	p, err := NewPublisher(Config{Address: addr}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Topic: TopicScanCompleted}), ErrPublisherClosed)
}

func TestPublisherBadAddress(t *testing.T) {
	_, err := NewPublisher(Config{Address: "bogus://nowhere"}, nil)
	assert.Error(t, err)
}

func TestSubscriberHonoursContext(t *testing.T) {
	addr := fmt.Sprintf("inproc://archmap-ctx-%d", time.Now().UnixNano())
	p, err := NewPublisher(Config{Address: addr}, nil)
	require.NoError(t, err)
	defer p.Close()

	s, err := Subscribe(addr)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
