package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

type key interface {
	comparable
}

type message interface {
	any
}

type Message[K key, M message] struct {
	Key     K
	Message M
}

type Publisher[M message] func(ctx context.Context, msg M)
type Subscriber[K key, M message] func(ctx context.Context) <-chan Message[K, M]

type EventType uint8

const (
	EventTypeSubscribed EventType = iota
	EventTypeUnsubscribed
)

func (e EventType) String() string {
	switch e {
	case EventTypeSubscribed:
		return "subscribed"
	case EventTypeUnsubscribed:
		return "unsubscribed"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Observer is called synchronously whenever a subscription starts or ends. Global
// subscriptions are reported with the zero key.
type Observer[K key] func(k K, event EventType)

type Bus[K key, M message] struct {
	log         *zap.Logger
	concurrency int
	ready       chan struct{}

	ch         chan Message[K, M]
	keySubs    *xsync.MapOf[K, subscriptionSet[K, M]]
	globalSubs *xsync.MapOf[*subscription[K, M], struct{}]

	observersMu sync.Mutex
	observers   []Observer[K]
}

func NewBus[K key, M message](logger *zap.Logger) *Bus[K, M] {
	return &Bus[K, M]{
		log:         logger,
		ready:       make(chan struct{}),
		concurrency: 1,

		ch:         make(chan Message[K, M]),
		keySubs:    xsync.NewMapOf[K, subscriptionSet[K, M]](),
		globalSubs: xsync.NewMapOf[*subscription[K, M], struct{}](),
	}
}

// Start launches the workers. Messages are processed in publish order as long as the
// concurrency stays at one.
func (b *Bus[K, M]) Start(ctx context.Context) error {
	if b.concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	for i := 0; i < b.concurrency; i++ {
		go b.work(ctx)
	}
	close(b.ready)
	return nil
}

func (b *Bus[K, M]) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.ch:
			b.process(ctx, msg)
		}
	}
}

func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
		return
	case b.ch <- Message[K, M]{key, msg}:
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

func (b *Bus[K, M]) CreateSubscriber(key ...K) Subscriber[K, M] {
	return func(ctx context.Context) <-chan Message[K, M] {
		return b.Subscribe(ctx, key...)
	}
}

func (b *Bus[K, M]) Observe(fn Observer[K]) {
	b.observersMu.Lock()
	defer b.observersMu.Unlock()
	b.observers = append(b.observers, fn)
}

func (b *Bus[K, M]) notify(key K, e EventType) {
	b.observersMu.Lock()
	observers := b.observers
	b.observersMu.Unlock()
	for _, fn := range observers {
		fn(key, e)
	}
}

func (b *Bus[K, M]) process(ctx context.Context, msg Message[K, M]) {
	b.globalSubs.Range(func(sub *subscription[K, M], _ struct{}) bool {
		return sub.send(ctx, msg)
	})
	subs, ok := b.keySubs.Load(msg.Key)
	if !ok {
		return
	}
	for sub := range subs {
		if !sub.send(ctx, msg) {
			return
		}
	}
}

// Subscribe returns a channel receiving messages published on any of the given keys, or
// on every key when none are given. The channel is closed once ctx is done.
func (b *Bus[K, M]) Subscribe(ctx context.Context, key ...K) <-chan Message[K, M] {
	sub := &subscription[K, M]{
		ch:   make(chan Message[K, M]),
		done: ctx.Done(),
	}
	if len(key) == 0 {
		b.globalSubs.Store(sub, struct{}{})
		var zeroKey K
		b.notify(zeroKey, EventTypeSubscribed)
		go func() {
			<-ctx.Done()
			b.globalSubs.Delete(sub)
			sub.close()
			b.notify(zeroKey, EventTypeUnsubscribed)
		}()
		return sub.ch
	}
	for _, k := range key {
		b.keySubs.Compute(k, func(val subscriptionSet[K, M], _ bool) (subscriptionSet[K, M], bool) {
			return val.with(sub), false
		})
		b.notify(k, EventTypeSubscribed)
	}
	go func() {
		<-ctx.Done()
		for _, k := range key {
			b.keySubs.Compute(k, func(val subscriptionSet[K, M], _ bool) (subscriptionSet[K, M], bool) {
				val = val.without(sub)
				return val, len(val) == 0
			})
		}
		sub.close()
		for _, k := range key {
			b.notify(k, EventTypeUnsubscribed)
		}
	}()
	return sub.ch
}

type subscription[K key, M message] struct {
	ch   chan Message[K, M]
	done <-chan struct{}

	mu     sync.RWMutex
	closed bool
}

// send reports false only when the bus itself is shutting down.
func (s *subscription[K, M]) send(ctx context.Context, msg Message[K, M]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.done:
	case s.ch <- msg:
	}
	return true
}

func (s *subscription[K, M]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.ch)
}

// subscriptionSet is copied on every change so that readers never see a map being
// written to.
type subscriptionSet[K key, M message] map[*subscription[K, M]]struct{}

func (s subscriptionSet[K, M]) with(sub *subscription[K, M]) subscriptionSet[K, M] {
	next := make(subscriptionSet[K, M], len(s)+1)
	for k := range s {
		next[k] = struct{}{}
	}
	next[sub] = struct{}{}
	return next
}

func (s subscriptionSet[K, M]) without(sub *subscription[K, M]) subscriptionSet[K, M] {
	next := make(subscriptionSet[K, M], len(s))
	for k := range s {
		if k != sub {
			next[k] = struct{}{}
		}
	}
	return next
}
