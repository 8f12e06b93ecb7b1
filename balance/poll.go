package balance

import (
	"context"
	"time"

	"github.com/vanylaplus/go-launcher/logger"
)

// subscription runs its callback on its own polling goroutine, so calls
// never overlap and the callback may call back into the Manager.
type subscription struct {
	key      string
	ctx      context.Context
	cancel   context.CancelFunc
	onUpdate func(int64)
	pending  chan int64
}

// push queues balance for delivery, replacing a value not yet delivered.
func (s *subscription) push(balance int64) {
	for {
		select {
		case s.pending <- balance:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

// deliver invokes the callback unless the subscription has been stopped.
func (s *subscription) deliver(log logger.Logger, balance int64) {
	if s.ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("update callback for %s panicked: %v", s.key, r)
		}
	}()
	s.onUpdate(balance)
}

// StartPolling replaces any subscription for key with one that refreshes
// immediately and then every PollingInterval, passing each balance to
// onUpdate. Successful fetches made through GetBalance or Refresh also reach
// onUpdate while the subscription is active.
func (m *Manager) StartPolling(key string, onUpdate func(int64)) {
	if onUpdate == nil {
		onUpdate = func(int64) {}
	}
	ctx, cancel := context.WithCancel(m.ctx)
	sub := &subscription{
		key:      key,
		ctx:      ctx,
		cancel:   cancel,
		onUpdate: onUpdate,
		pending:  make(chan int64, 1),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return
	}
	if old, ok := m.subs[key]; ok {
		old.cancel()
	}
	m.subs[key] = sub
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Debug("polling %s every %s", key, m.config.PollingInterval)
	go m.poll(sub)
}

func (m *Manager) poll(sub *subscription) {
	defer m.wg.Done()
	m.pollOnce(sub, true)

	ticker := time.NewTicker(m.config.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sub.ctx.Done():
			return
		case balance := <-sub.pending:
			sub.deliver(m.logger, balance)
		case <-ticker.C:
			m.pollOnce(sub, false)
		}
	}
}

func (m *Manager) pollOnce(sub *subscription, force bool) {
	r := m.Lookup(sub.ctx, sub.key, force)
	if r.Err != nil && sub.ctx.Err() == nil {
		m.logger.Warn("poll for %s served %s value: %s", sub.key, r.Origin, r.Err)
	}
	if r.notified == sub {
		// already queued
		return
	}
	sub.deliver(m.logger, r.Balance)
}

// StopPolling cancels the subscription for key. A callback already running
// finishes, but no further calls are made. Unknown keys are ignored.
func (m *Manager) StopPolling(key string) {
	m.mu.Lock()
	sub, ok := m.subs[key]
	if ok {
		delete(m.subs, key)
	}
	m.mu.Unlock()
	if ok {
		sub.cancel()
		m.logger.Debug("stopped polling %s", key)
	}
}

// StopAll cancels every subscription. Cached balances are kept.
func (m *Manager) StopAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]*subscription)
	m.mu.Unlock()
	for _, sub := range subs {
		sub.cancel()
	}
}

// Polling reports whether key has an active subscription.
func (m *Manager) Polling(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.subs[key]
	return ok
}
