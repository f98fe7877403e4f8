package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/formsight/formsight/internal/insights"
)

// AnswerCache replays completed ask responses for retried requests so a
// client retry never charges the account twice. Keys are scoped to the
// account, so one tenant can never read another's cached answer. A nil
// cache is a no-op.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redis.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &AnswerCache{client: client, ttl: ttl}
}

// Get returns the cached response for the account's request key, if any.
// An empty request key means the client did not opt in to replay.
func (c *AnswerCache) Get(ctx context.Context, accountID uuid.UUID, requestKey string) (*insights.AskResponse, bool) {
	if c == nil || c.client == nil || requestKey == "" {
		return nil, false
	}
	data, err := c.client.Get(ctx, answerKey(accountID, requestKey)).Bytes()
	if err != nil {
		return nil, false
	}
	var resp insights.AskResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

// Set stores a completed response under the account's request key. Failures
// are ignored; the answer was already delivered.
func (c *AnswerCache) Set(ctx context.Context, accountID uuid.UUID, requestKey string, resp *insights.AskResponse) {
	if c == nil || c.client == nil || requestKey == "" || resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.client.Set(ctx, answerKey(accountID, requestKey), data, c.ttl)
}

func answerKey(accountID uuid.UUID, requestKey string) string {
	return "answer:" + accountID.String() + ":" + requestKey
}
