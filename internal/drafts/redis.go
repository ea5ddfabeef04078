package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDraftTTL = 7 * 24 * time.Hour

type draftRecord struct {
	Text      string    `json:"text"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Redis stores drafts as JSON values that expire after ttl without edits.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to redisURL and checks the connection.
func NewRedis(redisURL string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisWithClient(client, ttl), nil
}

func NewRedisWithClient(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultDraftTTL
	}
	return &Redis{
		client: client,
		prefix: "draft:",
		ttl:    ttl,
	}
}

func (s *Redis) Get(ctx context.Context, projectID, sectionID int64) (string, bool, error) {
	raw, err := s.client.Get(ctx, draftKey(s.prefix, projectID, sectionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get draft: %w", err)
	}
	var record draftRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return "", false, fmt.Errorf("decode draft: %w", err)
	}
	return record.Text, true, nil
}

func (s *Redis) Put(ctx context.Context, projectID, sectionID int64, text string) error {
	payload, err := json.Marshal(draftRecord{Text: text, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	if err := s.client.Set(ctx, draftKey(s.prefix, projectID, sectionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, projectID, sectionID int64) error {
	if err := s.client.Del(ctx, draftKey(s.prefix, projectID, sectionID)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}
