package relay

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence mirrors which participants hold a live signaling connection, so that
// other server instances and the HTTP layer can see them.
type Presence interface {
	Add(ctx context.Context, meetingID, participantID string) error
	Remove(ctx context.Context, meetingID, participantID string) error
	Clear(ctx context.Context, meetingID string) error
	Members(ctx context.Context, meetingID string) ([]string, error)
}

// NopPresence keeps nothing. Used when no redis is configured.
type NopPresence struct{}

func (NopPresence) Add(context.Context, string, string) error    { return nil }
func (NopPresence) Remove(context.Context, string, string) error { return nil }
func (NopPresence) Clear(context.Context, string) error          { return nil }
func (NopPresence) Members(context.Context, string) ([]string, error) {
	return nil, nil
}

const presenceTTL = 24 * time.Hour

// RedisPresence stores one set per meeting under meeting:<id>:connections.
type RedisPresence struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisPresence(rdb redis.UniversalClient) *RedisPresence {
	return &RedisPresence{rdb: rdb, ttl: presenceTTL}
}

func presenceKey(meetingID string) string {
	return "meeting:" + meetingID + ":connections"
}

func (p *RedisPresence) Add(ctx context.Context, meetingID, participantID string) error {
	key := presenceKey(meetingID)

	pipe := p.rdb.TxPipeline()
	pipe.SAdd(ctx, key, participantID)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence add %s: %w", meetingID, err)
	}
	return nil
}

func (p *RedisPresence) Remove(ctx context.Context, meetingID, participantID string) error {
	if err := p.rdb.SRem(ctx, presenceKey(meetingID), participantID).Err(); err != nil {
		return fmt.Errorf("presence remove %s: %w", meetingID, err)
	}
	return nil
}

func (p *RedisPresence) Clear(ctx context.Context, meetingID string) error {
	if err := p.rdb.Del(ctx, presenceKey(meetingID)).Err(); err != nil {
		return fmt.Errorf("presence clear %s: %w", meetingID, err)
	}
	return nil
}

// Members returns the connected participant ids in sorted order.
func (p *RedisPresence) Members(ctx context.Context, meetingID string) ([]string, error) {
	ids, err := p.rdb.SMembers(ctx, presenceKey(meetingID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence members %s: %w", meetingID, err)
	}
	slices.Sort(ids)
	return ids, nil
}
