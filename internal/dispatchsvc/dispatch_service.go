// Package dispatchsvc delivers SENSR messages to registered listeners.
//
// Each listener is asked once, at registration, which categories it wants. It is then
// subscribed to the bus topic of every category it both declares and can handle.
package dispatchsvc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/neuroplastio/sensr-agent/listener"
	"github.com/neuroplastio/sensr-agent/pkg/bus"
	"github.com/neuroplastio/sensr-agent/sensrapi"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Sink is what message sources publish into.
type Sink interface {
	PublishOutputMessage(ctx context.Context, msg *sensrapi.OutputMessage)
	PublishPointResult(ctx context.Context, msg *sensrapi.PointResult)
	// Flush returns once every message published before it has been handled.
	Flush(ctx context.Context) error
	ReportError(kind listener.Error, reason string)
}

type (
	Envelope struct {
		Output *sensrapi.OutputMessage
		Point  *sensrapi.PointResult
	}
	MessageBus = bus.Bus[listener.ListeningType, Envelope]
)

var (
	ErrListenerExists = errors.New("listener already registered")
	ErrNotStarted     = errors.New("dispatcher not started")
	ErrStopped        = errors.New("dispatcher stopped")
)

type Stats struct {
	OutputMessages uint64
	PointResults   uint64
	Errors         uint64
}

type Service struct {
	log   *zap.Logger
	bus   *MessageBus
	ready chan struct{}
	// ctx is the Start context, set before ready is closed.
	ctx context.Context

	listeners *xsync.MapOf[string, listener.Listener]
	wg        sync.WaitGroup

	outputDelivered *atomic.Uint64
	pointDelivered  *atomic.Uint64
	errorsReported  *atomic.Uint64
}

var _ Sink = (*Service)(nil)

func New(log *zap.Logger) *Service {
	s := &Service{
		log:             log,
		bus:             bus.NewBus[listener.ListeningType, Envelope](log),
		ready:           make(chan struct{}),
		listeners:       xsync.NewMapOf[string, listener.Listener](),
		outputDelivered: atomic.NewUint64(0),
		pointDelivered:  atomic.NewUint64(0),
		errorsReported:  atomic.NewUint64(0),
	}
	s.bus.Observe(func(topic listener.ListeningType, e bus.EventType) {
		s.log.Debug("Subscription changed", zap.Stringer("topic", topic), zap.Stringer("event", e))
	})
	return s
}

// Start blocks until ctx is done and then waits for in-flight deliveries to finish.
func (s *Service) Start(ctx context.Context) error {
	err := s.bus.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start message bus: %w", err)
	}
	s.ctx = ctx
	close(s.ready)
	s.log.Info("Dispatcher started")
	<-ctx.Done()
	s.wg.Wait()
	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Register subscribes l until ctx or the Start context is done. Categories l declares
// but has no delivery method for are skipped with a warning.
func (s *Service) Register(ctx context.Context, name string, l listener.Listener) error {
	select {
	case <-s.ready:
	default:
		return ErrNotStarted
	}
	if s.ctx.Err() != nil {
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	if _, loaded := s.listeners.LoadOrStore(name, l); loaded {
		stop()
		cancel()
		return fmt.Errorf("%w: %s", ErrListenerExists, name)
	}
	log := s.log.With(zap.String("listener", name))

	var topics []listener.ListeningType
	if l.IsOutputMessageListening() {
		if _, ok := l.(listener.OutputMessageListener); ok {
			topics = append(topics, listener.OutputMessage)
		} else {
			log.Warn("Listener declares output messages but cannot receive them")
		}
	}
	if l.IsPointResultListening() {
		if _, ok := l.(listener.PointResultListener); ok {
			topics = append(topics, listener.PointResult)
		} else {
			log.Warn("Listener declares point results but cannot receive them")
		}
	}
	if len(topics) == 0 {
		log.Info("Listener registered for errors only")
		go func() {
			<-ctx.Done()
			stop()
			cancel()
			s.listeners.Delete(name)
		}()
		return nil
	}

	ch := s.bus.Subscribe(ctx, topics...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.listeners.Delete(name)
		defer stop()
		defer cancel()
		for msg := range ch {
			s.deliver(l, msg.Message)
		}
		log.Debug("Listener deregistered")
	}()
	log.Info("Listener registered", zap.Any("topics", topics))
	return nil
}

func (s *Service) deliver(l listener.Listener, env Envelope) {
	switch {
	case env.Output != nil:
		l.(listener.OutputMessageListener).OnOutputMessage(env.Output)
		s.outputDelivered.Inc()
	case env.Point != nil:
		l.(listener.PointResultListener).OnPointResult(env.Point)
		s.pointDelivered.Inc()
	}
}

func (s *Service) PublishOutputMessage(ctx context.Context, msg *sensrapi.OutputMessage) {
	s.bus.Publish(ctx, listener.OutputMessage, Envelope{Output: msg})
}

func (s *Service) PublishPointResult(ctx context.Context, msg *sensrapi.PointResult) {
	s.bus.Publish(ctx, listener.PointResult, Envelope{Point: msg})
}

// Flush relies on two properties of delivery: the bus hands a message to one
// subscriber at a time, and a listener accepts its next message only after it has
// handled the previous one. Once a marker published after the flush markers has been
// accepted by the bus, every earlier message has been handled.
func (s *Service) Flush(ctx context.Context) error {
	s.bus.Publish(ctx, listener.OutputMessage, Envelope{})
	s.bus.Publish(ctx, listener.PointResult, Envelope{})
	s.bus.Publish(ctx, listener.OutputMessage, Envelope{})
	return ctx.Err()
}

// ReportError calls OnError on every registered listener from the calling goroutine.
func (s *Service) ReportError(kind listener.Error, reason string) {
	s.log.Warn("Reporting error to listeners", zap.Stringer("kind", kind), zap.String("reason", reason))
	s.errorsReported.Inc()
	s.listeners.Range(func(_ string, l listener.Listener) bool {
		l.OnError(kind, reason)
		return true
	})
}

func (s *Service) Listeners() []string {
	var names []string
	s.listeners.Range(func(name string, _ listener.Listener) bool {
		names = append(names, name)
		return true
	})
	return names
}

func (s *Service) Stats() Stats {
	return Stats{
		OutputMessages: s.outputDelivered.Load(),
		PointResults:   s.pointDelivered.Load(),
		Errors:         s.errorsReported.Load(),
	}
}
