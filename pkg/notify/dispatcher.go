package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Message is an outbound email.
type Message struct {
	ID       string
	To       string
	Subject  string
	Body     string
	Attempt  int
	Enqueued time.Time
}

// Mailer delivers a message. Implementations live outside this service.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Dispatcher hands messages to a Mailer from a fixed pool of goroutines, retrying failures
// with a delay. Enqueue never blocks on delivery.
type Dispatcher struct {
	mailer Mailer

	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	queue   chan Message
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewDispatcher builds a dispatcher around mailer.
func NewDispatcher(mailer Mailer, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 16
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Dispatcher{
		mailer:     mailer,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		queue:      make(chan Message, cfg.BufferSize),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.started = true
	d.logger.Info("mail dispatcher started", zap.Int("workers", d.workers))
}

// Stop cancels the workers and waits for them to exit. Queued messages are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.started = false
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Info("mail dispatcher stopped")
}

// Enqueue schedules msg for delivery. It fails fast when the buffer is full.
func (d *Dispatcher) Enqueue(msg Message) error {
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if !started {
		return fmt.Errorf("mail dispatcher not started")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Enqueued.IsZero() {
		msg.Enqueued = time.Now().UTC()
	}

	select {
	case d.queue <- msg:
		return nil
	default:
		return fmt.Errorf("mail queue full")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case msg := <-d.queue:
			if err := d.mailer.Send(d.ctx, msg); err != nil {
				d.retry(msg, err)
			}
		}
	}
}

func (d *Dispatcher) retry(msg Message, err error) {
	msg.Attempt++
	if msg.Attempt > d.maxRetries {
		d.logger.Error("mail delivery abandoned", zap.String("message_id", msg.ID), zap.Int("attempts", msg.Attempt), zap.Error(err))
		return
	}
	d.logger.Warn("mail delivery failed, retrying", zap.String("message_id", msg.ID), zap.Int("attempt", msg.Attempt), zap.Error(err))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		timer := time.NewTimer(d.retryDelay)
		defer timer.Stop()
		select {
		case <-d.ctx.Done():
		case <-timer.C:
			select {
			case d.queue <- msg:
			case <-d.ctx.Done():
			}
		}
	}()
}

// LogMailer writes messages to the log instead of sending them. Used in development.
type LogMailer struct {
	Logger *zap.Logger
	Sender string
}

// Send implements Mailer.
func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("outbound mail", zap.String("from", m.Sender), zap.String("to", msg.To), zap.String("subject", msg.Subject), zap.String("body", msg.Body))
	return nil
}
