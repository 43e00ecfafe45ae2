package eventbus

import (
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
)

// Event as published during a deployment run
type Event struct {
	Name string
	At   time.Time
	Args interface{}
}

// NOOPHandler drops events on the floor without taking action
var NOOPHandler = Handler(func(_ Event) error { return nil })

// NopBus is an event bus that doesn't do anything
var NopBus EventBus = &nopBus{}

type nopBus struct{}

func (n *nopBus) Close() error { return nil }
func (n *nopBus) Publish(_ Event) {}
func (n *nopBus) Subscribe(...EventHandler) {}
func (n *nopBus) Unsubscribe(...EventHandler) {}
func (n *nopBus) Len() int { return 0 }

// EventHandler deals with handling events
type EventHandler interface {
	On(Event) error
}

// Handler wraps a function so it can be used as an event handler.
// Errors returned by the function go to the error handler of the bus,
// the publisher is never made aware of them.
func Handler(on func(Event) error) EventHandler {
	return &defaultHandler{on: on}
}

type defaultHandler struct {
	on func(Event) error
}

func (h *defaultHandler) On(event Event) error {
	return h.on(event)
}

// EventPredicate for filtering events
type EventPredicate func(Event) bool

// Filtered composes an event handler with a filter
func Filtered(matches EventPredicate, next EventHandler) EventHandler {
	return &filteredHandler{matches: matches, next: next}
}

type filteredHandler struct {
	next    EventHandler
	matches EventPredicate
}

func (f *filteredHandler) On(evt Event) error {
	if !f.matches(evt) {
		return nil
	}
	return f.next.On(evt)
}

// EventBus does fanout of run events to registered handlers
type EventBus interface {
	Close() error
	Publish(Event)
	Subscribe(...EventHandler)
	Unsubscribe(...EventHandler)
	Len() int
}

// New event bus with the specified logger
func New(log logrus.FieldLogger) EventBus {
	return NewWithTimeout(log, 100*time.Millisecond)
}

// NewWithTimeout creates a new event bus which gives up delivering to a
// subscriber after the given timeout, so one stuck handler can't stall a run.
func NewWithTimeout(log logrus.FieldLogger, timeout time.Duration) EventBus {
	if log == nil {
		log = logrus.New().WithFields(nil)
	}
	b := &defaultEventBus{
		channel:      make(chan Event, 100),
		closing:      make(chan chan struct{}),
		log:          log,
		errorHandler: func(err error) { log.Errorln(err) },
	}
	go b.dispatcherLoop(timeout)
	return b
}

type defaultEventBus struct {
	lock sync.RWMutex

	channel      chan Event
	subscribers  []*subscription
	closing      chan chan struct{}
	log          logrus.FieldLogger
	errorHandler func(error)
}

func (e *defaultEventBus) dispatcherLoop(timeout time.Duration) {
	inFlight := new(sync.WaitGroup)
	for {
		select {
		case evt := <-e.channel:
			timer := metrics.GetOrRegisterTimer("events.dispatch", metrics.DefaultRegistry)
			inFlight.Add(1)
			go timer.Time(func() {
				defer inFlight.Done()
				e.lock.RLock()
				defer e.lock.RUnlock()

				if len(e.subscribers) == 0 {
					e.log.Debugf("no active listeners, dropping %s event", evt.Name)
					return
				}

				var wg sync.WaitGroup
				wg.Add(len(e.subscribers))
				for _, sub := range e.subscribers {
					go func(listener chan<- Event) {
						defer wg.Done()
						t := time.NewTimer(timeout)
						select {
						case listener <- evt:
							t.Stop()
						case <-t.C:
							e.log.Warnf("failed to deliver %s event within %v", evt.Name, timeout)
						}
					}(sub.listener)
				}
				wg.Wait()
			})
		case closed := <-e.closing:
			inFlight.Wait()
			close(e.channel)
			e.lock.Lock()
			for _, sub := range e.subscribers {
				sub.Stop()
			}
			e.subscribers = nil
			e.lock.Unlock()
			closed <- struct{}{}
			e.log.Debug("event bus closed")
			return
		}
	}
}

func (e *defaultEventBus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	e.channel <- evt
}

func (e *defaultEventBus) Subscribe(handlers ...EventHandler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for _, handler := range handlers {
		sub := newSubscription(handler, e.errorHandler)
		sub.Listen()
		e.subscribers = append(e.subscribers, sub)
	}
}

func (e *defaultEventBus) Unsubscribe(handlers ...EventHandler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	for _, handler := range handlers {
		for i, sub := range e.subscribers {
			if !sub.Matches(handler) {
				continue
			}
			sub.Stop()
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			break
		}
	}
}

func (e *defaultEventBus) Close() error {
	ch := make(chan struct{})
	e.closing <- ch
	<-ch
	close(e.closing)
	return nil
}

func (e *defaultEventBus) Len() int {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return len(e.subscribers)
}

func newSubscription(handler EventHandler, onError func(error)) *subscription {
	return &subscription{
		handler: handler,
		once:    new(sync.Once),
		onError: onError,
	}
}

type subscription struct {
	listener chan Event
	handler  EventHandler
	once     *sync.Once
	onError  func(error)
}

func (s *subscription) Listen() {
	s.once.Do(func() {
		s.listener = make(chan Event)
		go func() {
			for evt := range s.listener {
				if err := s.handler.On(evt); err != nil {
					s.onError(err)
				}
			}
		}()
	})
}

func (s *subscription) Stop() {
	close(s.listener)
	s.listener = nil
	s.once = new(sync.Once)
}

func (s *subscription) Matches(handler EventHandler) bool {
	return s.handler == handler
}
