/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package notify delivers approval request events to interested parties.
// Delivery is best effort: a failing sink is logged and never blocks the
// state transition that produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/hyperledger/fabric-lib-go/common/flogging"
	"github.com/hyperledger/fabric-lib-go/common/metrics"
	"github.com/hyperledger/fabric-lib-go/common/metrics/disabled"
)

var logger = flogging.MustGetLogger("notify")

const (
	DefaultQueueSize       = 256
	DefaultWorkers         = 2
	DefaultDeliveryTimeout = 5 * time.Second
)

type EventType string

const (
	Created   EventType = "created"
	Signed    EventType = "signed"
	Submitted EventType = "submitted"
	Closed    EventType = "closed"
	Archived  EventType = "archived"
	Deleted   EventType = "deleted"
)

// Event describes a state change of an approval request.
type Event struct {
	Type      EventType `json:"type"`
	TxID      string    `json:"tx_id"`
	Channel   string    `json:"channel"`
	MSPID     string    `json:"msp_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(Event)
}

// Sink is a delivery target.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt Event) error
}

var (
	deliveriesOpts = metrics.CounterOpts{
		Namespace:    "console",
		Subsystem:    "notify",
		Name:         "deliveries",
		Help:         "The number of event deliveries by sink and outcome.",
		LabelNames:   []string{"sink", "outcome"},
		StatsdFormat: "%{#fqname}.%{sink}.%{outcome}",
	}
	droppedOpts = metrics.CounterOpts{
		Namespace: "console",
		Subsystem: "notify",
		Name:      "dropped",
		Help:      "The number of events dropped because the queue was full or the bus stopped.",
	}
)

type subscription struct {
	sink  Sink
	types map[EventType]bool
}

func (s subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// BusConfig tunes a Bus. Zero values select the defaults.
type BusConfig struct {
	QueueSize       int
	Workers         int
	DeliveryTimeout time.Duration
	MetricsProvider metrics.Provider
}

// Bus fans events out to subscribed sinks on a fixed pool of workers.
type Bus struct {
	timeout    time.Duration
	deliveries metrics.Counter
	dropped    metrics.Counter

	mutex         sync.RWMutex
	subscriptions []subscription
	stopped       bool
	queue         chan Event
	wg            sync.WaitGroup
}

func NewBus(config BusConfig) *Bus {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if config.MetricsProvider == nil {
		config.MetricsProvider = &disabled.Provider{}
	}

	b := &Bus{
		timeout:    config.DeliveryTimeout,
		deliveries: config.MetricsProvider.NewCounter(deliveriesOpts),
		dropped:    config.MetricsProvider.NewCounter(droppedOpts),
		queue:      make(chan Event, config.QueueSize),
	}
	for i := 0; i < config.Workers; i++ {
		b.wg.Add(1)
		go b.work()
	}
	return b
}

// Subscribe registers sink for the given event types, or for every type
// when none are given.
func (b *Bus) Subscribe(sink Sink, types ...EventType) {
	sub := subscription{sink: sink, types: map[EventType]bool{}}
	for _, t := range types {
		sub.types[t] = true
	}
	b.mutex.Lock()
	b.subscriptions = append(b.subscriptions, sub)
	b.mutex.Unlock()
}

// Publish enqueues evt without blocking.
func (b *Bus) Publish(evt Event) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	if b.stopped {
		b.dropped.Add(1)
		return
	}
	select {
	case b.queue <- evt:
	default:
		logger.Warnf("Notification queue full, dropping %s event for %s", evt.Type, evt.TxID)
		b.dropped.Add(1)
	}
}

// Stop delivers the queued events and waits for the workers to exit.
func (b *Bus) Stop() {
	b.mutex.Lock()
	if b.stopped {
		b.mutex.Unlock()
		return
	}
	b.stopped = true
	close(b.queue)
	b.mutex.Unlock()
	b.wg.Wait()
}

func (b *Bus) work() {
	defer b.wg.Done()
	for evt := range b.queue {
		b.deliver(evt)
	}
}

func (b *Bus) deliver(evt Event) {
	b.mutex.RLock()
	subs := append([]subscription(nil), b.subscriptions...)
	b.mutex.RUnlock()

	for _, sub := range subs {
		if !sub.wants(evt.Type) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		err := sub.sink.Deliver(ctx, evt)
		cancel()
		if err != nil {
			logger.Warnf("Failed delivering %s event for %s to %s: %s", evt.Type, evt.TxID, sub.sink.Name(), err)
			b.deliveries.With("sink", sub.sink.Name(), "outcome", "failure").Add(1)
			continue
		}
		b.deliveries.With("sink", sub.sink.Name(), "outcome", "success").Add(1)
	}
}
