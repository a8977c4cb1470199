package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"

	// Register transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-archmap/pkg/logging"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("publisher closed")

// ErrQueueFull is returned when an event is dropped.
var ErrQueueFull = errors.New("event queue full")

// PubPublisher sends events over a mangos PUB socket from a single
// background goroutine.
type PubPublisher struct {
	sock   mangos.Socket
	queue  chan Event
	logger logging.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewPublisher binds a PUB socket at cfg.Address and starts publishing.
func NewPublisher(cfg Config, logger logging.Logger) (*PubPublisher, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to create PUB socket: %w", err)
	}
	if cfg.SendDeadline > 0 {
		if err := sock.SetOption(mangos.OptionSendDeadline, cfg.SendDeadline); err != nil {
			sock.Close()
			return nil, fmt.Errorf("failed to set send deadline: %w", err)
		}
	}
	if err := sock.Listen(cfg.Address); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to bind PUB socket: %w", err)
	}

	p := &PubPublisher{
		sock:   sock,
		queue:  make(chan Event, cfg.BufferSize),
		logger: logger.With(logging.Component("notify")),
		stopCh: make(chan struct{}),
	}
	p.logger.Info("event publisher bound", logging.String("address", cfg.Address))

	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Publish queues e. It never waits for the network.
func (p *PubPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	select {
	case p.queue <- e:
		return nil
	default:
		p.logger.Warn("event dropped", logging.String("topic", e.Topic), logging.ScanID(e.ScanID))
		return ErrQueueFull
	}
}

func (p *PubPublisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			p.drain()
			return
		case e := <-p.queue:
			p.send(e)
		}
	}
}

func (p *PubPublisher) drain() {
	for {
		select {
		case e := <-p.queue:
			p.send(e)
		default:
			return
		}
	}
}

func (p *PubPublisher) send(e Event) {
	msg, err := e.Encode()
	if err != nil {
		p.logger.Error("failed to encode event", logging.Error(err))
		return
	}
	if err := p.sock.Send(msg); err != nil {
		p.logger.Warn("failed to publish event", logging.String("topic", e.Topic), logging.Error(err))
		return
	}
	p.logger.Debug("event published", logging.String("topic", e.Topic), logging.ScanID(e.ScanID))
}

// Close flushes queued events and closes the socket. It is idempotent.
func (p *PubPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	return p.sock.Close()
}

// Open returns a PubPublisher when cfg is enabled and a NopPublisher
// otherwise.
func Open(cfg Config, logger logging.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}
	return NewPublisher(cfg, logger)
}
