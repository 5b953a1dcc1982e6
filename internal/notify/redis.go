// README: Redis list of the latest updates per ride, read by polling clients.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"campusride/internal/types"
)

const (
	FeedLength = 50
	FeedTTL    = 48 * time.Hour
)

type RedisFeed struct {
	rdb *redis.Client
}

func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

func feedKey(rideID types.ID) string {
	return fmt.Sprintf("ride:%s:updates", rideID)
}

func (f *RedisFeed) Send(ctx context.Context, u Update) error {
	body, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal ride update: %w", err)
	}
	key := feedKey(u.RideID)
	_, err = f.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, body)
		p.LTrim(ctx, key, 0, FeedLength-1)
		p.Expire(ctx, key, FeedTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push ride update: %w", err)
	}
	return nil
}

// Recent returns up to limit updates for the ride, newest first.
func (f *RedisFeed) Recent(ctx context.Context, rideID types.ID, limit int) ([]Update, error) {
	if limit <= 0 || limit > FeedLength {
		limit = FeedLength
	}
	raw, err := f.rdb.LRange(ctx, feedKey(rideID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read ride updates: %w", err)
	}
	out := make([]Update, 0, len(raw))
	for _, item := range raw {
		var u Update
		if err := json.Unmarshal([]byte(item), &u); err != nil {
			return nil, fmt.Errorf("decode ride update: %w", err)
		}
		out = append(out, u)
	}
	return out, nil
}
