// Copyright 2023 The mqttmux Authors
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

// Package mux implements the connection multiplexer. An Adapter lets many
// local subscribers share one broker connection: it reference-counts
// subscriptions so each distinct topic filter costs a single broker-level
// subscribe, fans inbound messages out through a wildcard dispatch trie, and
// replays the full subscription set on every (re)connect before signaling
// readiness. All subscriber callbacks and completion callbacks run on a
// dedicated task queue, never on the transport's own event goroutines.
package mux

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/turtacn/mqttmux/pkg/metrics"
	"github.com/turtacn/mqttmux/pkg/naming"
	"github.com/turtacn/mqttmux/pkg/subcount"
	"github.com/turtacn/mqttmux/pkg/taskq"
	"github.com/turtacn/mqttmux/pkg/topic"
	"github.com/turtacn/mqttmux/pkg/transport"
)

const defaultQueueSize = 64

// Options configures an Adapter.
type Options struct {
	// Factory dials broker connections. Required.
	Factory transport.Factory
	// Translator maps local topics to wire topics. Defaults to
	// naming.Identity.
	Translator naming.Translator
	// QueueSize is the dispatch queue buffer size. Defaults to 64.
	QueueSize int
}

// PublishOptions carries the optional delivery settings for Publish. A nil
// *PublishOptions, or a nil QoS field, selects the defaults: QoS 1 (at least
// once) and retain off.
type PublishOptions struct {
	QoS    *byte
	Retain bool
}

// QoS is a convenience for building a PublishOptions QoS field.
func QoS(level byte) *byte { return &level }

// Adapter multiplexes local subscribers over a single broker connection. Its
// methods are safe for concurrent use. Completion callbacks (the done
// arguments) and the ready/error/closed listeners are always invoked from the
// adapter's dispatch goroutine, never from the caller's or the transport's
// stack.
type Adapter struct {
	factory transport.Factory
	names   naming.Translator
	counter *subcount.Counter
	engine  *topic.Store
	queue   *taskq.Queue

	mu          sync.Mutex
	state       State
	handle      transport.Handle
	epoch       int
	replaying   bool
	pendingSubs int
	// connectArrived records a connect event that raced ahead of the
	// handle being stored, so replay can start once Connect catches up.
	connectArrived bool
	closeDone      []func()

	readyFn  func()
	errorFn  func(error)
	closedFn func()

	stopQueue context.CancelFunc
}

// NewAdapter creates an Adapter and starts its dispatch goroutine. The
// adapter starts Disconnected; call Connect to dial the broker.
func NewAdapter(opts Options) (*Adapter, error) {
	if opts.Factory == nil {
		return nil, ErrNoFactory
	}
	if opts.Translator == nil {
		opts.Translator = naming.Identity{}
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	a := &Adapter{
		factory: opts.Factory,
		names:   opts.Translator,
		counter: subcount.NewCounter(),
		engine:  topic.NewStore(),
		state:   StateDisconnected,
	}
	a.queue = taskq.NewQueue(opts.QueueSize, func(r any) {
		metrics.DispatchPanicsTotal.Inc()
		log.Printf("mux: recovered panic in subscriber callback: %v", r)
	})

	ctx, cancel := context.WithCancel(context.Background())
	a.stopQueue = cancel
	go func() { _ = a.queue.Run(ctx) }()
	return a, nil
}

// OnReady registers the listener invoked after every successful (re)connect,
// once the whole subscription set has been replayed and acknowledged.
func (a *Adapter) OnReady(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readyFn = fn
}

// OnError registers the listener for transport errors. After an error the
// subscription bookkeeping is intact but no subscription is live on the
// broker until a fresh Connect completes and OnReady fires again.
func (a *Adapter) OnError(fn func(error)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorFn = fn
}

// OnClosed registers the listener invoked once Close has fully torn the
// adapter down.
func (a *Adapter) OnClosed(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closedFn = fn
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect dials the broker. It returns immediately; the outcome is reported
// through the OnReady or OnError listener. The adapter never redials on its
// own: after an error event the caller decides whether to Connect again.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	switch a.state {
	case StateClosing, StateClosed:
		a.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateConnected:
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	a.state = StateConnecting
	a.epoch++
	a.connectArrived = false
	epoch := a.epoch
	a.mu.Unlock()

	handle, err := a.factory.Dial(transport.Events{
		OnConnect: func() { a.transportConnected(epoch) },
		OnMessage: func(wireTopic string, payload []byte) { a.transportMessage(epoch, wireTopic, payload) },
		OnError:   func(err error) { a.transportError(epoch, err) },
		OnClose:   func() { a.transportClosed(epoch) },
	})
	if err != nil {
		a.mu.Lock()
		if a.epoch == epoch && a.state == StateConnecting {
			a.state = StateDisconnected
		}
		a.mu.Unlock()
		return fmt.Errorf("dial failed: %w", err)
	}

	a.mu.Lock()
	if a.epoch != epoch || a.state != StateConnecting {
		// Closed while dialing; the handle is not ours to keep.
		a.mu.Unlock()
		handle.End()
		return ErrClosed
	}
	a.handle = handle
	if a.connectArrived {
		a.connectArrived = false
		a.mu.Unlock()
		a.transportConnected(epoch)
		return nil
	}
	a.mu.Unlock()
	return nil
}

// Subscribe registers sub under the given topic filter. The first local
// subscriber for a filter triggers a broker-level subscribe at QoS 1; further
// subscribers reuse it and done fires without any broker round trip. A
// malformed filter is reported synchronously.
func (a *Adapter) Subscribe(filter string, sub topic.Subscriber, done func(error)) error {
	if err := topic.ValidateFilter(filter); err != nil {
		return err
	}

	a.mu.Lock()
	if a.state == StateClosing || a.state == StateClosed {
		a.mu.Unlock()
		return ErrClosed
	}

	// The broker decision is taken before the counter is bumped so the
	// 0->1 transition is seen exactly once.
	first := !a.counter.Include(filter)
	needBroker := first && a.handle != nil &&
		(a.state == StateConnected || (a.state == StateConnecting && a.replaying))
	handle := a.handle

	a.counter.Add(filter)
	if err := a.engine.Subscribe(filter, sub); err != nil {
		a.counter.Remove(filter)
		a.mu.Unlock()
		return err
	}
	a.mu.Unlock()

	if needBroker {
		metrics.BrokerSubscribesTotal.Inc()
		handle.Subscribe(a.names.WireSubscribeTopic(filter), transport.QoSAtLeastOnce, a.deferDone(done))
		return nil
	}
	a.post(func() {
		if done != nil {
			done(nil)
		}
	})
	return nil
}

// Unsubscribe removes sub's registration for the given filter. The
// broker-level unsubscribe is issued only when the last local subscriber for
// the filter is gone; otherwise done fires without a broker round trip.
func (a *Adapter) Unsubscribe(filter string, sub topic.Subscriber, done func(error)) error {
	a.mu.Lock()
	if a.state == StateClosing || a.state == StateClosed {
		a.mu.Unlock()
		return ErrClosed
	}

	// Mirrors the Subscribe gate: a 1->0 transition mid-replay still needs
	// the broker call, because the replayed subscribe for this filter is
	// already in flight and nothing else would ever retract it.
	a.engine.Unsubscribe(filter, sub)
	last := a.counter.Remove(filter)
	needBroker := last && a.handle != nil &&
		(a.state == StateConnected || (a.state == StateConnecting && a.replaying))
	handle := a.handle
	a.mu.Unlock()

	if needBroker {
		metrics.BrokerUnsubscribesTotal.Inc()
		handle.Unsubscribe(a.names.WireSubscribeTopic(filter), a.deferDone(done))
		return nil
	}
	a.post(func() {
		if done != nil {
			done(nil)
		}
	})
	return nil
}

// Publish forwards a message to the broker on a literal topic. A nil opts
// applies the defaults: QoS 1, retain off. done fires once the broker
// acknowledges the publish.
func (a *Adapter) Publish(localTopic string, payload []byte, opts *PublishOptions, done func(error)) error {
	a.mu.Lock()
	if a.state == StateClosing || a.state == StateClosed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.state != StateConnected || a.handle == nil {
		a.mu.Unlock()
		return ErrNotConnected
	}
	handle := a.handle
	a.mu.Unlock()

	qos := transport.QoSAtLeastOnce
	retain := false
	if opts != nil {
		if opts.QoS != nil {
			qos = *opts.QoS
		}
		retain = opts.Retain
	}

	metrics.PublishesTotal.Inc()
	handle.Publish(a.names.WirePublishTopic(localTopic), payload, qos, retain, a.deferDone(done))
	return nil
}

// Close tears the adapter down: the subscription counter is cleared, the
// transport is asked to end, and once it acknowledges, the dispatch trie is
// discarded and the closed listener plus done fire. Close is idempotent;
// calling it on an already closed adapter just invokes done.
func (a *Adapter) Close(done func()) {
	a.mu.Lock()
	switch a.state {
	case StateClosed:
		a.mu.Unlock()
		if done != nil {
			done()
		}
		return
	case StateClosing:
		if done != nil {
			a.closeDone = append(a.closeDone, done)
		}
		a.mu.Unlock()
		return
	}

	a.state = StateClosing
	a.counter.Clear()
	if done != nil {
		a.closeDone = append(a.closeDone, done)
	}
	handle := a.handle
	if handle != nil {
		a.mu.Unlock()
		handle.End()
		return
	}
	a.finishCloseAndUnlock()
}

// transportConnected runs the resubscription protocol: snapshot the counted
// filters, subscribe to all of them in parallel, and only once every ack has
// arrived transition to Connected and fire ready.
func (a *Adapter) transportConnected(epoch int) {
	a.mu.Lock()
	if a.epoch != epoch || a.state != StateConnecting {
		a.mu.Unlock()
		return
	}
	if a.handle == nil {
		a.connectArrived = true
		a.mu.Unlock()
		return
	}

	filters := a.counter.Keys()
	if len(filters) == 0 {
		task := a.becomeReadyLocked()
		a.mu.Unlock()
		a.post(task)
		return
	}

	a.replaying = true
	a.pendingSubs = len(filters)
	handle := a.handle
	a.mu.Unlock()

	log.Printf("mux: replaying %d subscription(s) after connect", len(filters))
	for _, filter := range filters {
		metrics.BrokerSubscribesTotal.Inc()
		handle.Subscribe(a.names.WireSubscribeTopic(filter), transport.QoSAtLeastOnce, func(err error) {
			a.replayAck(epoch, err)
		})
	}
}

func (a *Adapter) replayAck(epoch int, err error) {
	a.mu.Lock()
	if a.epoch != epoch || a.state != StateConnecting {
		a.mu.Unlock()
		return
	}

	if err != nil {
		handle := a.discardLocked()
		a.mu.Unlock()
		if handle != nil {
			handle.End()
		}
		a.emitError(fmt.Errorf("subscription replay failed: %w", err))
		return
	}

	a.pendingSubs--
	if a.pendingSubs == 0 {
		task := a.becomeReadyLocked()
		a.mu.Unlock()
		a.post(task)
		return
	}
	a.mu.Unlock()
}

// becomeReadyLocked transitions to Connected and returns the ready
// notification task. Callers hold a.mu and must post the task only after
// releasing it: Post can block on a full queue, and the dispatch goroutine
// may itself be waiting on a.mu.
func (a *Adapter) becomeReadyLocked() func() {
	a.state = StateConnected
	a.replaying = false
	a.pendingSubs = 0
	metrics.ReconnectsTotal.Inc()

	ready := a.readyFn
	return func() {
		if ready != nil {
			ready()
		}
	}
}

// transportMessage fans an inbound message out to the matching local
// subscribers. Matching happens here, but the callbacks themselves run on
// the dispatch queue: a panicking subscriber can never unwind into the
// transport's event stack.
func (a *Adapter) transportMessage(epoch int, wireTopic string, payload []byte) {
	a.mu.Lock()
	stale := a.epoch != epoch || a.state == StateClosing || a.state == StateClosed
	a.mu.Unlock()
	if stale {
		return
	}

	localTopic, ok := a.names.LocalTopic(wireTopic)
	if !ok {
		return
	}

	for _, sub := range a.engine.Match(localTopic) {
		sub := sub
		a.post(func() {
			metrics.MessagesDispatchedTotal.Inc()
			sub.HandleMessage(localTopic, payload)
		})
	}
}

// transportError discards the handle and reports the error. Subscription
// bookkeeping survives so a later Connect replays the same set; the adapter
// never redials by itself.
func (a *Adapter) transportError(epoch int, err error) {
	a.mu.Lock()
	if a.epoch != epoch || a.state == StateClosing || a.state == StateClosed {
		// Errors from a discarded handle, or while closing, are not
		// interesting anymore.
		a.mu.Unlock()
		return
	}
	handle := a.discardLocked()
	a.mu.Unlock()
	if handle != nil {
		handle.End()
	}

	a.emitError(err)
}

// transportClosed finishes the close handshake once the transport
// acknowledges End.
func (a *Adapter) transportClosed(epoch int) {
	a.mu.Lock()
	if a.epoch != epoch || a.state != StateClosing {
		a.mu.Unlock()
		return
	}
	a.finishCloseAndUnlock()
}

// discardLocked drops the transport handle and returns to Disconnected.
// Bumping the epoch makes any event still in flight from the old handle a
// no-op. Callers hold a.mu and receive the old handle back.
func (a *Adapter) discardLocked() transport.Handle {
	handle := a.handle
	a.handle = nil
	a.state = StateDisconnected
	a.replaying = false
	a.pendingSubs = 0
	a.epoch++
	return handle
}

// finishCloseAndUnlock completes the teardown. It takes ownership of a.mu
// (held by the caller), releases it, and stops the dispatch queue after the
// closed callbacks have been posted; the queue drains its buffer before
// exiting, so they still run.
func (a *Adapter) finishCloseAndUnlock() {
	a.engine.Close()
	a.handle = nil
	a.state = StateClosed
	a.epoch++
	closed := a.closedFn
	dones := a.closeDone
	a.closeDone = nil
	a.mu.Unlock()

	a.queue.Post(func() {
		if closed != nil {
			closed()
		}
		for _, done := range dones {
			done()
		}
	})
	a.stopQueue()
	log.Printf("mux: adapter closed")
}

// post schedules a callback on the dispatch queue.
func (a *Adapter) post(task func()) {
	a.queue.Post(task)
}

// deferDone wraps a completion callback so it runs on the dispatch queue.
// Acknowledgments arriving after Close are swallowed: the caller already
// observed closed.
func (a *Adapter) deferDone(done func(error)) func(error) {
	return func(err error) {
		a.mu.Lock()
		dead := a.state == StateClosed
		a.mu.Unlock()
		if dead || done == nil {
			return
		}
		a.post(func() { done(err) })
	}
}

// emitError reports err through the error listener on the dispatch queue.
func (a *Adapter) emitError(err error) {
	a.mu.Lock()
	errFn := a.errorFn
	a.mu.Unlock()

	a.post(func() {
		if errFn != nil {
			errFn(err)
			return
		}
		log.Printf("mux: transport error: %v", err)
	})
}
