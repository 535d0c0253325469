// Copyright 2025 Cachet Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package event provides the in-process event bus that ledger state
// transitions publish to. Consumers such as the REST API, the journal
// archiver, and tests subscribe by event type and receive each event
// through a buffered channel or a callback.
package event

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	EventQueueSize      = 20
	AsyncQueueSize      = 1000
	AsyncWorkerPoolSize = 4
)

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

// queuedEvent pairs an event with its routing type for the async queue
type queuedEvent struct {
	eventType EventType
	event     Event
}

type EventBus struct {
	subscribers map[EventType]map[EventSubscriberId]Subscriber
	metrics     *eventMetrics
	lastSubId   EventSubscriberId
	mu          sync.RWMutex
	logger      *slog.Logger

	asyncQueue chan queuedEvent
	asyncWg    sync.WaitGroup
	stopCh     chan struct{}
	stopped    bool
	stopMu     sync.RWMutex
	stopOpMu   sync.Mutex // Serializes Stop() so concurrent calls cannot spawn duplicate worker pools
}

// NewEventBus creates an EventBus and starts its async worker pool. A nil
// registry disables metrics, and a nil logger discards log output.
func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *EventBus {
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]Subscriber),
		logger:      logger,
		asyncQueue:  make(chan queuedEvent, AsyncQueueSize),
		stopCh:      make(chan struct{}),
	}
	if e.logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if promRegistry != nil {
		e.initMetrics(promRegistry)
	}
	for range AsyncWorkerPoolSize {
		e.asyncWg.Add(1)
		go e.asyncWorker()
	}
	return e
}

// asyncWorker drains the async queue and republishes each event synchronously
func (e *EventBus) asyncWorker() {
	defer e.asyncWg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case qe, ok := <-e.asyncQueue:
			if !ok {
				return
			}
			e.Publish(qe.eventType, qe.event)
		}
	}
}

// Subscriber abstracts event delivery so that in-memory channels and
// network-backed consumers register through the same interface.
// Implementations must make Close() idempotent.
type Subscriber interface {
	Deliver(Event) error
	Close()
}

// channelSubscriber adapts a buffered channel to the Subscriber interface.
// Deliver never blocks: when the buffer is full the event is dropped and the
// onDrop callback fires. Close closes the channel so that SubscribeFunc
// goroutines exit.
type channelSubscriber struct {
	ch     chan Event
	onDrop func()
	mu     sync.RWMutex
	closed bool
}

func newChannelSubscriber(buffer int, onDrop func()) *channelSubscriber {
	return &channelSubscriber{
		ch:     make(chan Event, buffer),
		onDrop: onDrop,
	}
}

func (c *channelSubscriber) Deliver(evt Event) error {
	// Hold the read lock across the send so Close waits for in-flight
	// deliveries before closing the channel
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		// Already closed; drop silently
		return nil
	}
	select {
	case c.ch <- evt:
	default:
		// Buffer full; drop rather than block the publisher
		if c.onDrop != nil {
			c.onDrop()
		}
	}
	return nil
}

func (c *channelSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Subscribe registers a channel-backed subscriber for the given event type
// and returns its id along with the receive channel
func (e *EventBus) Subscribe(
	eventType EventType,
) (EventSubscriberId, <-chan Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	chSub := newChannelSubscriber(EventQueueSize, func() {
		e.logger.Debug(
			"subscriber queue full, dropping event",
			"component", "eventbus",
			"type", eventType,
		)
		e.recordDeliveryError(eventType, "subscriber-full")
	})
	subId := e.lastSubId + 1
	e.lastSubId = subId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]Subscriber)
	}
	e.subscribers[eventType][subId] = chSub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType), "in-memory").
			Inc()
	}
	return subId, chSub.ch
}

// SubscribeFunc registers a callback for the given event type. The callback
// runs on a dedicated goroutine that exits when the subscription is removed.
// A panicking callback is logged and the goroutine keeps processing events.
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
) EventSubscriberId {
	subId, evtCh := e.Subscribe(eventType)
	go func() {
		for evt := range evtCh {
			func() {
				defer func() {
					if r := recover(); r != nil {
						e.logger.Error(
							"event handler panic",
							"component", "eventbus",
							"type", eventType,
							"error", r,
						)
					}
				}()
				handlerFunc(evt)
			}()
		}
	}()
	return subId
}

// RegisterSubscriber attaches an externally implemented Subscriber, such as
// a journal archiver, and returns the assigned subscriber id
func (e *EventBus) RegisterSubscriber(
	eventType EventType,
	sub Subscriber,
) EventSubscriberId {
	e.mu.Lock()
	defer e.mu.Unlock()
	subId := e.lastSubId + 1
	e.lastSubId = subId
	if _, ok := e.subscribers[eventType]; !ok {
		e.subscribers[eventType] = make(map[EventSubscriberId]Subscriber)
	}
	e.subscribers[eventType][subId] = sub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType), "remote").Inc()
	}
	return subId
}

// Unsubscribe removes a subscriber and closes it
func (e *EventBus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	e.mu.Lock()
	var removed Subscriber
	if evtTypeSubs, ok := e.subscribers[eventType]; ok {
		if sub, ok := evtTypeSubs[subId]; ok {
			removed = sub
			delete(evtTypeSubs, subId)
			if len(evtTypeSubs) == 0 {
				delete(e.subscribers, eventType)
			}
			if e.metrics != nil {
				e.metrics.subscribers.WithLabelValues(string(eventType), subscriberKind(sub)).
					Dec()
			}
		}
	}
	e.mu.Unlock()
	// Close outside the lock so Deliver calls holding the subscriber's own
	// lock cannot deadlock against us
	if removed != nil {
		removed.Close()
	}
}

// Publish delivers an event synchronously to every subscriber of the given
// type. A subscriber whose Deliver returns an error or panics is removed.
func (e *EventBus) Publish(eventType EventType, evt Event) {
	type subEntry struct {
		id  EventSubscriberId
		sub Subscriber
	}
	e.mu.RLock()
	subs := e.subscribers[eventType]
	entries := make([]subEntry, 0, len(subs))
	for id, sub := range subs {
		entries = append(entries, subEntry{id: id, sub: sub})
	}
	e.mu.RUnlock()
	for _, entry := range entries {
		var deliverErr error
		func() {
			defer func() {
				if r := recover(); r != nil {
					deliverErr = fmt.Errorf("subscriber deliver panic: %v", r)
				}
			}()
			deliverErr = entry.sub.Deliver(evt)
		}()
		if deliverErr != nil {
			e.Unsubscribe(eventType, entry.id)
			e.recordDeliveryError(eventType, subscriberKind(entry.sub))
			e.logger.Debug(
				"event delivery error",
				"component", "eventbus",
				"type", eventType,
				"error", deliverErr,
			)
		}
	}
	if e.metrics != nil {
		e.metrics.eventsTotal.WithLabelValues(string(eventType)).Inc()
	}
}

// PublishAsync enqueues an event for delivery by the worker pool and returns
// immediately. It returns false when the bus is stopped or the queue is full.
// Use it for events where publisher latency matters more than delivery.
func (e *EventBus) PublishAsync(eventType EventType, evt Event) bool {
	e.stopMu.RLock()
	if e.stopped {
		e.stopMu.RUnlock()
		return false
	}
	e.stopMu.RUnlock()
	select {
	case e.asyncQueue <- queuedEvent{eventType: eventType, event: evt}:
		return true
	default:
		e.logger.Warn(
			"async event queue full, dropping event",
			"component", "eventbus",
			"type", eventType,
		)
		e.recordDeliveryError(eventType, "async-dropped")
		return false
	}
}

// Stop shuts down the worker pool, closes every subscriber, and clears the
// subscriber map, then reinitializes the bus so it can be reused
func (e *EventBus) Stop() {
	e.stopOpMu.Lock()
	defer e.stopOpMu.Unlock()

	e.stopMu.Lock()
	wasStopped := e.stopped
	e.stopped = true
	e.stopMu.Unlock()

	if !wasStopped {
		close(e.stopCh)
		e.asyncWg.Wait()
	}

	e.mu.Lock()
	subsCopy := e.subscribers
	e.subscribers = make(map[EventType]map[EventSubscriberId]Subscriber)
	e.mu.Unlock()

	// Close subscribers outside the lock
	for _, evtTypeSubs := range subsCopy {
		for _, sub := range evtTypeSubs {
			sub.Close()
		}
	}
	if e.metrics != nil {
		e.metrics.subscribers.Reset()
	}

	// Reinitialize the async plumbing so the bus remains usable
	e.stopMu.Lock()
	e.asyncQueue = make(chan queuedEvent, AsyncQueueSize)
	e.stopCh = make(chan struct{})
	e.stopped = false
	e.stopMu.Unlock()
	for range AsyncWorkerPoolSize {
		e.asyncWg.Add(1)
		go e.asyncWorker()
	}
}

func (e *EventBus) recordDeliveryError(eventType EventType, kind string) {
	if e.metrics != nil {
		e.metrics.deliveryErrors.WithLabelValues(string(eventType), kind).Inc()
	}
}

func subscriberKind(sub Subscriber) string {
	if _, ok := sub.(*channelSubscriber); ok {
		return "in-memory"
	}
	return "remote"
}
