package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/watchledger/internal/core/domain"
)

const (
	defaultStream = "watchledger:balance_changes"
	defaultMaxLen = 100_000
)

// Notifier publishes balance-change events to a Redis stream.
type Notifier struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewNotifier creates a stream notifier over client.
func NewNotifier(client *Client, cfg Config) *Notifier {
	n := &Notifier{rdb: client.rdb, stream: cfg.Stream, maxLen: cfg.MaxLen}
	if n.stream == "" {
		n.stream = defaultStream
	}
	if n.maxLen <= 0 {
		n.maxLen = defaultMaxLen
	}
	return n
}

// BalanceChanged appends the event to the stream, trimming it to roughly
// maxLen entries.
func (n *Notifier) BalanceChanged(ctx context.Context, ev domain.BalanceChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = n.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: n.stream,
		MaxLen: n.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":             domain.ActionBalanceChanged,
			"watch_address_id": ev.WatchAddressID.String(),
			"payload":          payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Recent returns up to count of the newest events, newest first.
func (n *Notifier) Recent(ctx context.Context, count int64) ([]domain.BalanceChanged, error) {
	msgs, err := n.rdb.XRevRangeN(ctx, n.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange failed: %w", err)
	}
	out := make([]domain.BalanceChanged, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["payload"].(string)
		if !ok {
			continue
		}
		var ev domain.BalanceChanged
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("invalid event %s: %w", m.ID, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
