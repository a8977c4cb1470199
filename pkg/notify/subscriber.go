package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/sub"
)

// Subscriber receives events from a publisher.
type Subscriber struct {
	sock mangos.Socket
}

// Subscribe dials address and filters on topics; no topics means all.
func Subscribe(address string, topics ...string) (*Subscriber, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create SUB socket: %w", err)
	}
	if err := sock.Dial(address); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to connect to publisher: %w", err)
	}

	if len(topics) == 0 {
		topics = []string{""}
	}
	for _, t := range topics {
		prefix := []byte(t)
		if t != "" {
			prefix = append(prefix, ':')
		}
		if err := sock.SetOption(mangos.OptionSubscribe, prefix); err != nil {
			sock.Close()
			return nil, fmt.Errorf("failed to subscribe to %q: %w", t, err)
		}
	}
	return &Subscriber{sock: sock}, nil
}

// Next waits for the next event until ctx is done. Malformed messages are
// returned as errors; the subscriber stays usable.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Event{}, err
		}
		wait := 200 * time.Millisecond
		if dl, ok := ctx.Deadline(); ok {
			if left := time.Until(dl); left < wait {
				wait = max(left, time.Millisecond)
			}
		}
		if err := s.sock.SetOption(mangos.OptionRecvDeadline, wait); err != nil {
			return Event{}, err
		}

		msg, err := s.sock.Recv()
		if errors.Is(err, mangos.ErrRecvTimeout) {
			continue
		}
		if err != nil {
			return Event{}, err
		}
		return Decode(msg)
	}
}

// Close closes the socket.
func (s *Subscriber) Close() error {
	return s.sock.Close()
}
