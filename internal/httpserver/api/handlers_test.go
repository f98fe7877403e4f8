package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/formsight/formsight/internal/aggregate"
	"github.com/formsight/formsight/internal/ai"
	"github.com/formsight/formsight/internal/app"
	"github.com/formsight/formsight/internal/auth"
	"github.com/formsight/formsight/internal/billing"
	"github.com/formsight/formsight/internal/cache"
	"github.com/formsight/formsight/internal/insights"
	"github.com/formsight/formsight/internal/limits"
	"github.com/formsight/formsight/internal/period"
	"github.com/formsight/formsight/internal/quota"
	"github.com/formsight/formsight/internal/store"
)

type memoryAccounts struct {
	mu    sync.Mutex
	state *quota.AccountState
}

func (m *memoryAccounts) Get(_ context.Context, _ uuid.UUID) (*quota.AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, quota.ErrAccountNotFound
	}
	clone := *m.state
	return &clone, nil
}

func (m *memoryAccounts) Update(_ context.Context, _ uuid.UUID, mutate func(*quota.AccountState) error) (*quota.AccountState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, quota.ErrAccountNotFound
	}
	clone := *m.state
	if err := mutate(&clone); err != nil {
		return nil, err
	}
	m.state = &clone
	out := clone
	return &out, nil
}

type stubAggregator struct{ result *aggregate.Result }

func (s *stubAggregator) Aggregate(_ context.Context, _ aggregate.Query, _ time.Time) (*aggregate.Result, error) {
	return s.result, nil
}

type stubModel struct {
	resp  ai.CompletionResponse
	calls int
}

func (s *stubModel) Complete(_ context.Context, _ ai.CompletionRequest) (ai.CompletionResponse, error) {
	s.calls++
	return s.resp, nil
}

type memoryConversations struct {
	conv     *store.Conversation
	messages []store.ConversationMessage
}

func (m *memoryConversations) GetOrCreate(_ context.Context, accountID uuid.UUID, conversationID *uuid.UUID, titleHint string) (*store.Conversation, error) {
	if m.conv == nil {
		id := uuid.New()
		if conversationID != nil {
			id = *conversationID
		}
		m.conv = &store.Conversation{ID: id, AccountID: accountID, Title: titleHint}
	}
	return m.conv, nil
}

func (m *memoryConversations) Append(_ context.Context, conversationID uuid.UUID, role, content string, tokensUsed int) error {
	m.messages = append(m.messages, store.ConversationMessage{
		ID: uuid.New(), ConversationID: conversationID, Role: role, Content: content, TokensUsed: tokensUsed,
	})
	return nil
}

func (m *memoryConversations) Messages(_ context.Context, accountID, conversationID uuid.UUID) ([]store.ConversationMessage, error) {
	if m.conv == nil || m.conv.ID != conversationID || m.conv.AccountID != accountID {
		return nil, store.ErrNotFound
	}
	return m.messages, nil
}

type nopUsage struct{}

func (nopUsage) Insert(context.Context, *store.UsageEntry) error { return nil }

func (nopUsage) TotalsForAccount(context.Context, uuid.UUID, time.Time, time.Time) (int64, error) {
	return 0, nil
}

type testEnv struct {
	app      *fiber.App
	token    string
	accounts *memoryAccounts
	model    *stubModel
	convs    *memoryConversations
}

func newTestEnv(t *testing.T, rateLimit limits.LimitConfig) *testEnv {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		redisClient.Close()
		server.Close()
	})

	accountID := uuid.New()
	agencyID := uuid.New()
	reset := time.Now().AddDate(0, 1, 0)
	accounts := &memoryAccounts{state: &quota.AccountState{
		AccountID:          accountID,
		AgencyID:           agencyID,
		Package:            quota.PackageStarter,
		PackageLimit:       10000,
		TokensResetDate:    &reset,
		SubscriptionStatus: quota.StatusActive,
	}}

	model := &stubModel{resp: ai.CompletionResponse{Text: "12 submissions this month.", UsedTokens: 400}}
	convs := &memoryConversations{}

	svc := insights.NewService(insights.ServiceOptions{
		Resolver:      period.NewResolver(time.UTC),
		Aggregator:    &stubAggregator{result: &aggregate.Result{Totals: aggregate.Totals{Entries: 12, UniqueUsers: 3, UniqueForms: 2}}},
		Converter:     billing.NewConverter(1.5),
		Ledger:        quota.NewLedger(quota.NewClock(quota.DefaultLimits()), accounts),
		Conversations: convs,
		Usage:         nopUsage{},
		Model:         model,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	tm, err := auth.NewTokenManager("test-secret", time.Hour, "formsight")
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	token, _, err := tm.Generate(accountID, agencyID)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	container := &app.Container{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Tokens:      tm,
		Insights:    svc,
		RateLimiter: limits.NewRateLimiter(redisClient, rateLimit),
		Answers:     cache.NewAnswerCache(redisClient, time.Minute),
	}

	fiberApp := fiber.New()
	Register(fiberApp, container)
	return &testEnv{app: fiberApp, token: token, accounts: accounts, model: model, convs: convs}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode response %s: %v", raw, err)
		}
	}
	return resp, decoded
}

func TestAskRequiresAuth(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})

	req := httptest.NewRequest(http.MethodPost, "/v1/insights/ask", bytes.NewBufferString(`{"question":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestAskHappyPath(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})

	resp, body := env.request(t, http.MethodPost, "/v1/insights/ask",
		map[string]any{"question": "How many submissions?", "period": "this_month"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if body["answer"] != "12 submissions this month." {
		t.Fatalf("answer = %v", body["answer"])
	}
	meta, _ := body["meta"].(map[string]any)
	if meta == nil {
		t.Fatalf("meta missing: %v", body)
	}
	if meta["userTokensCharged"] != float64(600) {
		t.Fatalf("charged = %v, want 600", meta["userTokensCharged"])
	}
	if env.accounts.state.TokensUsedMonthly != 600 {
		t.Fatalf("persisted usage = %d", env.accounts.state.TokensUsedMonthly)
	}
}

func TestAskResponseShape(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})

	resp, body := env.request(t, http.MethodPost, "/v1/insights/ask",
		map[string]any{"question": "How many submissions?", "period": "this_month"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %v", resp.StatusCode, body)
	}
	if _, ok := body["conversationId"].(string); !ok {
		t.Fatalf("conversationId missing: %v", body)
	}
	meta, _ := body["meta"].(map[string]any)
	if meta["period"] != "this month" {
		t.Fatalf("meta.period = %v", meta["period"])
	}
	if meta["usedEntries"] != float64(12) {
		t.Fatalf("meta.usedEntries = %v", meta["usedEntries"])
	}
	if meta["tokensUsed"] != float64(400) {
		t.Fatalf("meta.tokensUsed = %v", meta["tokensUsed"])
	}
	breakdown, _ := meta["breakdown"].(map[string]any)
	if breakdown == nil {
		t.Fatalf("breakdown missing: %v", meta)
	}
	dateRange, _ := breakdown["dateRange"].(map[string]any)
	if dateRange == nil {
		t.Fatalf("dateRange must be an object: %v", breakdown)
	}
	for _, key := range []string{"start", "end"} {
		raw, _ := dateRange[key].(string)
		if _, err := time.Parse(time.RFC3339, raw); err != nil {
			t.Fatalf("dateRange.%s = %q: %v", key, raw, err)
		}
	}
}

func TestAskInvalidQuestion(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})

	resp, body := env.request(t, http.MethodPost, "/v1/insights/ask",
		map[string]any{"question": "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["code"] != "INVALID_QUESTION" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestAskInsufficientTokensPayload(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})
	env.accounts.state.TokensUsedMonthly = 9990

	resp, body := env.request(t, http.MethodPost, "/v1/insights/ask",
		map[string]any{"question": "How many submissions?", "period": "this_month"}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	if body["code"] != "INSUFFICIENT_TOKENS" {
		t.Fatalf("code = %v", body["code"])
	}
	details, _ := body["details"].(map[string]any)
	if details == nil {
		t.Fatalf("details missing: %v", body)
	}
	if details["available"] != float64(10) {
		t.Fatalf("available = %v, want 10", details["available"])
	}
	if details["packageLimit"] != float64(10000) {
		t.Fatalf("packageLimit = %v", details["packageLimit"])
	}
	if _, ok := details["payAsYouGoTokens"]; !ok {
		t.Fatalf("payAsYouGoTokens missing: %v", details)
	}
	if env.model.calls != 0 {
		t.Fatalf("model must not be called on rejection")
	}
}

func TestAskExpiredSubscription(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})
	ended := time.Now().AddDate(0, -1, 0)
	env.accounts.state.SubscriptionEndDate = &ended

	resp, body := env.request(t, http.MethodPost, "/v1/insights/ask",
		map[string]any{"question": "Anything?"}, nil)
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
	if body["code"] != "SUBSCRIPTION_EXPIRED" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestAskRateLimited(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{RequestsPerMinute: 1})
	payload := map[string]any{"question": "How many submissions?"}

	resp, _ := env.request(t, http.MethodPost, "/v1/insights/ask", payload, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	resp, body := env.request(t, http.MethodPost, "/v1/insights/ask", payload, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", resp.StatusCode)
	}
	if body["code"] != "RATE_LIMITED" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestAskIdempotentReplay(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})
	payload := map[string]any{"question": "How many submissions?"}
	headers := map[string]string{"Idempotency-Key": "req-77"}

	resp, first := env.request(t, http.MethodPost, "/v1/insights/ask", payload, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first status = %d", resp.StatusCode)
	}
	resp, second := env.request(t, http.MethodPost, "/v1/insights/ask", payload, headers)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d", resp.StatusCode)
	}
	if env.model.calls != 1 {
		t.Fatalf("replay must not call the model again, calls = %d", env.model.calls)
	}
	if env.accounts.state.TokensUsedMonthly != 600 {
		t.Fatalf("replay must not double charge, usage = %d", env.accounts.state.TokensUsedMonthly)
	}
	if first["conversationId"] != second["conversationId"] {
		t.Fatalf("replay should return the cached response")
	}
}

func TestAskReleasesParallelSlot(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{ParallelRequests: 1})
	payload := map[string]any{"question": "How many submissions?"}

	for i := 0; i < 3; i++ {
		resp, body := env.request(t, http.MethodPost, "/v1/insights/ask", payload, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d, body %v", i+1, resp.StatusCode, body)
		}
	}
}

func TestQuotaEndpoint(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})
	env.accounts.state.TokensUsedMonthly = 2500

	resp, body := env.request(t, http.MethodGet, "/v1/insights/quota", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["remaining"] != float64(7500) {
		t.Fatalf("remaining = %v, want 7500", body["remaining"])
	}
	if body["package"] != "starter" {
		t.Fatalf("package = %v", body["package"])
	}
}

func TestConversationEndpoint(t *testing.T) {
	env := newTestEnv(t, limits.LimitConfig{})

	resp, ask := env.request(t, http.MethodPost, "/v1/insights/ask",
		map[string]any{"question": "How many submissions?"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ask status = %d", resp.StatusCode)
	}
	convID, _ := ask["conversationId"].(string)

	resp, body := env.request(t, http.MethodGet, fmt.Sprintf("/v1/insights/conversations/%s", convID), nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("conversation status = %d", resp.StatusCode)
	}
	messages, _ := body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("messages = %d, want user and assistant turns", len(messages))
	}

	resp, body = env.request(t, http.MethodGet, "/v1/insights/conversations/"+uuid.NewString(), nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversation status = %d", resp.StatusCode)
	}
	if body["code"] != "NOT_FOUND" {
		t.Fatalf("code = %v", body["code"])
	}
}
