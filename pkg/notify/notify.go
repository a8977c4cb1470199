// Package notify publishes scan lifecycle events on a nanomsg pub socket so
// other processes can follow a continuously updated architecture map.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dd0wney/cluso-archmap/pkg/diff"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
)

// Event topics. Subscribers filter on the "<topic>:" message prefix.
const (
	TopicScanCompleted = "scan.completed"
	TopicScanFailed    = "scan.failed"
	TopicDiffComputed  = "diff.computed"
)

// Topics lists every topic a publisher may emit.
var Topics = []string{TopicScanCompleted, TopicScanFailed, TopicDiffComputed}

// Event is one published notification.
type Event struct {
	Topic    string                   `json:"topic"`
	ScanID   string                   `json:"scan_id,omitempty"`
	TargetID string                   `json:"target_id"`
	Time     time.Time                `json:"time"`
	Findings map[finding.Severity]int `json:"findings,omitempty"`
	Previous string                   `json:"previous_scan_id,omitempty"`
	Diff     *diff.Summary            `json:"diff,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

// Encode renders the event as "<topic>:<json>".
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append([]byte(e.Topic+":"), data...), nil
}

// Decode parses a message produced by Encode.
func Decode(msg []byte) (Event, error) {
	i := bytes.IndexByte(msg, ':')
	if i <= 0 {
		return Event{}, fmt.Errorf("notify: message has no topic prefix")
	}
	var e Event
	if err := json.Unmarshal(msg[i+1:], &e); err != nil {
		return Event{}, fmt.Errorf("notify: decode event: %w", err)
	}
	if e.Topic != string(msg[:i]) {
		return Event{}, fmt.Errorf("notify: topic prefix %q does not match body %q", msg[:i], e.Topic)
	}
	return e, nil
}

// Publisher delivers events. Publishing never blocks a scan: events that
// cannot be queued are dropped.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// Config configures the pub socket.
type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address" validate:"required_if=Enabled true"`
	BufferSize   int           `mapstructure:"buffer_size" validate:"gte=0"`
	SendDeadline time.Duration `mapstructure:"send_deadline" validate:"gte=0"`
}

// DefaultConfig returns the disabled default.
func DefaultConfig() Config {
	return Config{
		Address:      "tcp://127.0.0.1:7450",
		BufferSize:   64,
		SendDeadline: time.Second,
	}
}
