package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/tmc/langchaingo/llms"

	"github.com/rahul/intake/internal/workflow"
)

const (
	defaultMemoryTTL  = 12 * time.Hour
	defaultMemoryCap  = 50
	defaultRedisScope = "intake"
)

// RedisStore keeps progress and question sets as JSON strings and the
// conversation memory as a capped list that expires after the TTL.
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	prefix    string
	memoryCap int64
	clock     clockwork.Clock
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets how long conversation memory survives without new messages.
// Set to 0 for no expiration. Progress records never expire.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithMemoryCap bounds the number of messages kept per user.
func WithMemoryCap(n int) RedisOption {
	return func(s *RedisStore) {
		s.memoryCap = int64(n)
	}
}

func WithRedisClock(c clockwork.Clock) RedisOption {
	return func(s *RedisStore) {
		s.clock = c
	}
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client:    client,
		ttl:       defaultMemoryTTL,
		prefix:    defaultRedisScope,
		memoryCap: defaultMemoryCap,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *RedisStore) progressKey(userID string) string {
	return fmt.Sprintf("%s:progress:%s", s.prefix, userID)
}

func (s *RedisStore) questionsKey(userID string) string {
	return fmt.Sprintf("%s:questions:%s", s.prefix, userID)
}

func (s *RedisStore) memoryKey(userID string) string {
	return fmt.Sprintf("%s:memory:%s", s.prefix, userID)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) IsNotFound(err error) bool {
	return IsNotFound(err)
}

func (s *RedisStore) LoadProgress(ctx context.Context, userID string) (*workflow.Progress, error) {
	var p workflow.Progress
	if err := s.getJSON(ctx, s.progressKey(userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RedisStore) LoadQuestions(ctx context.Context, userID string) (*workflow.QuestionSet, error) {
	var set workflow.QuestionSet
	if err := s.getJSON(ctx, s.questionsKey(userID), &set); err != nil {
		return nil, err
	}
	return &set, nil
}

func (s *RedisStore) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// createRunScript writes both keys only when no progress record exists.
// KEYS[1] progress, KEYS[2] questions; ARGV[1] progress, ARGV[2] questions.
var createRunScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2])
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// CreateRun writes the question set and the record atomically. It fails with
// workflow.ErrRunExists if the user already has a run.
func (s *RedisStore) CreateRun(ctx context.Context, set *workflow.QuestionSet, p *workflow.Progress) error {
	if set == nil || p == nil || p.UserID == "" || set.UserID != p.UserID {
		return errors.New("create run: question set and progress must name the same user")
	}
	qs, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal question set: %w", err)
	}
	pr, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	created, err := createRunScript.Run(ctx, s.client,
		[]string{s.progressKey(p.UserID), s.questionsKey(p.UserID)}, pr, qs).Int()
	if err != nil {
		return fmt.Errorf("redis create run failed: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("create run: %w", workflow.ErrRunExists)
	}
	return nil
}

// SaveProgress overwrites an existing record; it never creates one.
func (s *RedisStore) SaveProgress(ctx context.Context, p *workflow.Progress) error {
	if p == nil || p.UserID == "" {
		return errors.New("save progress: user id is required")
	}
	pr, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.progressKey(p.UserID), pr, 0).Result()
	if err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) DeleteRun(ctx context.Context, userID string) error {
	pipe := s.client.TxPipeline()
	delCmd := pipe.Del(ctx, s.progressKey(userID))
	pipe.Del(ctx, s.questionsKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	if delCmd.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMessage appends to the user's memory list, trims it to the cap and
// refreshes its TTL in a single round-trip.
func (s *RedisStore) AddMessage(ctx context.Context, userID, role, content string) error {
	data, err := json.Marshal(Message{Role: role, Content: content, At: s.clock.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	key := s.memoryKey(userID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, data)
	if s.memoryCap > 0 {
		pipe.LTrim(ctx, key, -s.memoryCap, -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline failed: %w", err)
	}
	return nil
}

func (s *RedisStore) GetHistory(ctx context.Context, userID string, limit int) ([]llms.MessageContent, error) {
	if limit <= 0 {
		return nil, nil
	}
	raw, err := s.client.LRange(ctx, s.memoryKey(userID), -int64(limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	history := make([]llms.MessageContent, 0, len(raw))
	for _, item := range raw {
		var m Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		history = append(history, toMessageContent(m.Role, m.Content))
	}
	return history, nil
}

func (s *RedisStore) ClearMemory(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.memoryKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
