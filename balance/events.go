package balance

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vanylaplus/go-launcher/eventing"
	"github.com/vmihailenco/msgpack/v5"
)

// UpdateSubject carries an Update for every successful fetch.
const UpdateSubject = "balance.updated"

// Update is broadcast whenever a fetch for Key succeeds.
type Update struct {
	Key       string    `msgpack:"key"`
	Balance   int64     `msgpack:"balance"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

// publish broadcasts e. It is bounded by RequestTimeout so a stalled event
// client cannot hold up the fetch that produced e.
func (m *Manager) publish(e Entry) {
	buf, err := msgpack.Marshal(Update{Key: e.Key, Balance: e.Balance, FetchedAt: e.FetchedAt})
	if err != nil {
		m.logger.Error("failed to encode update for %s: %s", e.Key, err)
		return
	}
	ctx, cancel := context.WithTimeout(m.ctx, m.config.RequestTimeout)
	defer cancel()
	if err := m.events.Publish(ctx, UpdateSubject, buf); err != nil && m.ctx.Err() == nil {
		m.logger.Warn("failed to publish update for %s: %s", e.Key, err)
	}
}

// OnUpdate calls cb with every Update broadcast on the Manager's event
// client, including those published by other processes sharing it. On the
// in-process bus a callback that falls behind misses updates rather than
// stalling fetches.
func (m *Manager) OnUpdate(ctx context.Context, cb func(Update)) (eventing.Subscriber, error) {
	sub, err := m.events.Subscribe(ctx, UpdateSubject, func(ctx context.Context, msg eventing.Message) {
		var u Update
		if err := msgpack.Unmarshal(msg.Data(), &u); err != nil {
			m.logger.Warn("dropping malformed update: %s", err)
			return
		}
		cb(u)
	})
	if err != nil {
		return nil, errors.Wrap(err, "subscribe to balance updates")
	}
	return sub, nil
}
