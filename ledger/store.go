package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goPullToken/internal/audit"
)

var (
	// ErrAlreadyClaimed is returned when a token has already been exchanged.
	ErrAlreadyClaimed = errors.New("token already claimed")
	// ErrRedisUnavailable wraps any Redis failure.
	ErrRedisUnavailable = errors.New("redis unavailable")
	// ErrCorruptEntry is returned for stream entries that do not decode.
	ErrCorruptEntry = errors.New("corrupt ledger entry")
)

const entryField = "e"

const releaseClaimScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseClaimLua = redis.NewScript(releaseClaimScript)

// Config controls key layout and retention.
type Config struct {
	Prefix       string
	ClaimTTL     time.Duration
	StreamMaxLen int64
}

// Store is the Redis-backed ledger. It also satisfies the audit sink interface so the
// audit dispatcher can feed the event stream directly.
type Store struct {
	redis  redis.UniversalClient
	config Config
	owner  string

	appendFailures atomic.Uint64
}

// New creates a [Store]. Each Store gets its own owner id; claims can only be released
// by the Store that wrote them.
func New(redisClient redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "pt"
	}
	return &Store{
		redis:  redisClient,
		config: cfg,
		owner:  uuid.NewString(),
	}
}

// Claim marks tokenID as exchanged. The marker lives for ttl, or for the configured
// ClaimTTL when ttl is not positive.
func (s *Store) Claim(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.config.ClaimTTL
	}
	ok, err := s.redis.SetNX(ctx, s.claimKey(tokenID), s.owner, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlreadyClaimed, tokenID)
	}
	return nil
}

// Unclaim releases a claim this Store wrote and reports whether one was removed.
func (s *Store) Unclaim(ctx context.Context, tokenID string) (bool, error) {
	n, err := releaseClaimLua.Run(ctx, s.redis, []string{s.claimKey(tokenID)}, s.owner).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Claimed reports whether tokenID has been exchanged by any Store.
func (s *Store) Claimed(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.claimKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// Append adds e to the event stream and returns its stream id.
func (s *Store) Append(ctx context.Context, e Entry) (string, error) {
	data, err := encodeEntry(e)
	if err != nil {
		return "", err
	}
	args := &redis.XAddArgs{
		Stream: s.streamKey(),
		Values: map[string]any{entryField: data},
	}
	if s.config.StreamMaxLen > 0 {
		args.MaxLen = s.config.StreamMaxLen
	}
	id, err := s.redis.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return id, nil
}

// Recent returns up to n entries, newest first.
func (s *Store) Recent(ctx context.Context, n int64) ([]Entry, error) {
	msgs, err := s.redis.XRevRangeN(ctx, s.streamKey(), "+", "-", n).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	out := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values[entryField].(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s has no payload", ErrCorruptEntry, msg.ID)
		}
		e, err := decodeEntry([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, msg.ID, err)
		}
		e.StreamID = msg.ID
		out = append(out, e)
	}
	return out, nil
}

// Emit appends an audit event to the stream. Failures are counted, not returned.
func (s *Store) Emit(ctx context.Context, event audit.Event) {
	_, err := s.Append(ctx, Entry{
		ID:           event.ID,
		AtMillis:     event.Timestamp.UnixMilli(),
		Kind:         event.EventType,
		TokenID:      event.TokenID,
		ConnectionID: event.ConnectionID,
		IP:           event.IP,
		Success:      event.Success,
		Error:        event.Error,
		Metadata:     event.Metadata,
	})
	if err != nil {
		s.appendFailures.Add(1)
	}
}

// AppendFailures returns how many Emit calls failed to reach Redis.
func (s *Store) AppendFailures() uint64 {
	return s.appendFailures.Load()
}

func (s *Store) claimKey(tokenID string) string {
	return s.config.Prefix + ":claim:" + strings.ToLower(tokenID)
}

func (s *Store) streamKey() string {
	return s.config.Prefix + ":events"
}

var _ audit.Sink = (*Store)(nil)
