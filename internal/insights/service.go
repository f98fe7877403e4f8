package insights

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formsight/formsight/internal/aggregate"
	"github.com/formsight/formsight/internal/ai"
	"github.com/formsight/formsight/internal/billing"
	"github.com/formsight/formsight/internal/observability"
	"github.com/formsight/formsight/internal/period"
	"github.com/formsight/formsight/internal/quota"
	"github.com/formsight/formsight/internal/store"
	"github.com/formsight/formsight/internal/tokens"
)

var (
	ErrInvalidQuestion = errors.New("insights: invalid question")
	// ErrDataLoad wraps upstream store failures so the transport layer can
	// report them as a bad-gateway condition instead of a generic 500.
	ErrDataLoad = errors.New("insights: data load failed")
)

// AskRequest is one question against an agency's submission data. The
// account and agency ids come from the verified token, never the body.
type AskRequest struct {
	AccountID       uuid.UUID
	AgencyID        uuid.UUID
	Question        string
	Period          string
	FormID          *uuid.UUID
	UserID          *uuid.UUID
	SelectedFormIDs []uuid.UUID
	ConversationID  *uuid.UUID
}

// DateRange reports the resolved window bounds in RFC 3339.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Breakdown describes the slice of data the answer was computed over.
type Breakdown struct {
	Users     int       `json:"users"`
	Forms     int       `json:"forms"`
	DateRange DateRange `json:"dateRange"`
}

type Meta struct {
	Package           string    `json:"package"`
	Period            string    `json:"period"`
	UsedEntries       int       `json:"usedEntries"`
	Breakdown         Breakdown `json:"breakdown"`
	TokensUsed        int       `json:"tokensUsed"`
	UserTokensCharged int       `json:"userTokensCharged"`
}

type AskResponse struct {
	Answer         string    `json:"answer"`
	ConversationID uuid.UUID `json:"conversationId"`
	Fallback       bool      `json:"fallback"`
	Meta           Meta      `json:"meta"`
}

// QuotaStatus is the read-only balance snapshot for the quota endpoint.
type QuotaStatus struct {
	Package            string     `json:"package"`
	PackageLimit       int64      `json:"packageLimit"`
	TokensUsedMonthly  int64      `json:"tokensUsedMonthly"`
	PayAsYouGoTokens   int64      `json:"payAsYouGoTokens"`
	Remaining          int64      `json:"remaining"`
	Unlimited          bool       `json:"unlimited"`
	ChargedThisMonth   int64      `json:"chargedThisMonth"`
	TokensResetDate    *time.Time `json:"tokensResetDate,omitempty"`
	SubscriptionStatus string     `json:"subscriptionStatus"`
}

type Aggregator interface {
	Aggregate(ctx context.Context, q aggregate.Query, now time.Time) (*aggregate.Result, error)
}

type ConversationStore interface {
	GetOrCreate(ctx context.Context, accountID uuid.UUID, conversationID *uuid.UUID, titleHint string) (*store.Conversation, error)
	Append(ctx context.Context, conversationID uuid.UUID, role, content string, tokensUsed int) error
	Messages(ctx context.Context, accountID, conversationID uuid.UUID) ([]store.ConversationMessage, error)
}

type UsageRecorder interface {
	Insert(ctx context.Context, entry *store.UsageEntry) error
	TotalsForAccount(ctx context.Context, accountID uuid.UUID, from, to time.Time) (int64, error)
}

// Service wires the full question-to-answer pipeline: period resolution,
// aggregation, token estimation, admission control, the model call, and
// settlement.
type Service struct {
	resolver       *period.Resolver
	aggregator     Aggregator
	estimator      *tokens.Estimator
	converter      *billing.Converter
	ledger         *quota.Ledger
	conversations  ConversationStore
	usage          UsageRecorder
	model          ai.ModelClient
	modelName      string
	metrics        *observability.Provider
	logger         *slog.Logger
	maxQuestionLen int
	maxOutput      int
	now            func() time.Time
}

type ServiceOptions struct {
	Resolver       *period.Resolver
	Aggregator     Aggregator
	Estimator      *tokens.Estimator
	Converter      *billing.Converter
	Ledger         *quota.Ledger
	Conversations  ConversationStore
	Usage          UsageRecorder
	Model          ai.ModelClient
	ModelName      string
	Metrics        *observability.Provider
	Logger         *slog.Logger
	MaxQuestionLen int
	MaxOutput      int
	Now            func() time.Time
}

func NewService(opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	maxQuestion := opts.MaxQuestionLen
	if maxQuestion <= 0 {
		maxQuestion = 2000
	}
	maxOutput := opts.MaxOutput
	if maxOutput <= 0 {
		maxOutput = 800
	}
	estimator := opts.Estimator
	if estimator == nil {
		estimator = tokens.NewEstimator()
	}
	return &Service{
		resolver:       opts.Resolver,
		aggregator:     opts.Aggregator,
		estimator:      estimator,
		converter:      opts.Converter,
		ledger:         opts.Ledger,
		conversations:  opts.Conversations,
		usage:          opts.Usage,
		model:          opts.Model,
		modelName:      opts.ModelName,
		metrics:        opts.Metrics,
		logger:         logger,
		maxQuestionLen: maxQuestion,
		maxOutput:      maxOutput,
		now:            nowFn,
	}
}

// Ask answers one question over the caller's submission data.
//
// Admission runs against the estimated cost before any model spend; the
// actual debit settles afterwards from provider-reported usage. A model
// failure degrades to a deterministic summary of the aggregated data and
// charges nothing.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", ErrInvalidQuestion)
	}
	if len(question) > s.maxQuestionLen {
		return nil, fmt.Errorf("%w: question exceeds %d characters", ErrInvalidQuestion, s.maxQuestionLen)
	}

	now := s.now()
	window, err := s.resolver.Resolve(req.Period, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuestion, err)
	}

	result, err := s.aggregator.Aggregate(ctx, aggregate.Query{
		AgencyID:        req.AgencyID,
		Window:          window,
		FormID:          req.FormID,
		UserID:          req.UserID,
		SelectedFormIDs: req.SelectedFormIDs,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataLoad, err)
	}

	systemPrompt := buildSystemPrompt(window, result)
	estimated := s.estimator.TotalEstimated(systemPrompt, question, s.maxOutput)
	estimatedCharge := s.converter.ChargeableTokens(estimated)

	state, err := s.ledger.Admit(ctx, req.AccountID, int64(estimatedCharge), now)
	if err != nil {
		return nil, err
	}

	conv, err := s.conversations.GetOrCreate(ctx, req.AccountID, req.ConversationID, question)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	answer, usedTokens, fallback := s.complete(ctx, systemPrompt, question, result, window)

	charged := 0
	if !fallback && usedTokens > 0 {
		charged = s.converter.ChargeableTokens(usedTokens)
		if _, err := s.ledger.Settle(ctx, req.AccountID, int64(charged), now); err != nil {
			// The answer was already produced; losing it over a settlement
			// failure punishes the user twice. Log and return.
			s.logger.ErrorContext(ctx, "usage settlement failed",
				slog.String("account_id", req.AccountID.String()),
				slog.Int("charged_tokens", charged),
				slog.String("error", err.Error()))
		}
	}

	s.record(ctx, conv.ID, req.AccountID, question, answer, estimated, usedTokens, charged, fallback)

	return &AskResponse{
		Answer:         answer,
		ConversationID: conv.ID,
		Fallback:       fallback,
		Meta: Meta{
			Package:     string(state.Package),
			Period:      window.Label,
			UsedEntries: result.Totals.Entries,
			Breakdown: Breakdown{
				Users: result.Totals.UniqueUsers,
				Forms: result.Totals.UniqueForms,
				DateRange: DateRange{
					Start: window.Start.Format(time.RFC3339),
					End:   window.End.Format(time.RFC3339),
				},
			},
			TokensUsed:        usedTokens,
			UserTokensCharged: charged,
		},
	}, nil
}

// complete calls the model and absorbs its failure into the deterministic
// fallback summary. Fallback answers report zero used tokens.
func (s *Service) complete(ctx context.Context, systemPrompt, question string, result *aggregate.Result, window period.Window) (string, int, bool) {
	start := time.Now()
	resp, err := s.model.Complete(ctx, ai.CompletionRequest{
		SystemPrompt: systemPrompt,
		Question:     question,
		MaxTokens:    s.maxOutput,
	})
	if err != nil {
		s.metrics.RecordModelRequest(s.modelName, "fallback", time.Since(start))
		s.logger.WarnContext(ctx, "model call failed, serving fallback summary",
			slog.String("error", err.Error()))
		return fallbackSummary(window, result), 0, true
	}
	s.metrics.RecordModelRequest(s.modelName, "ok", time.Since(start))
	return resp.Text, resp.UsedTokens, false
}

// record persists the conversation turn and the usage audit row. Both are
// best effort once the answer exists.
func (s *Service) record(ctx context.Context, conversationID, accountID uuid.UUID, question, answer string, estimated, used, charged int, fallback bool) {
	if err := s.conversations.Append(ctx, conversationID, "user", question, 0); err != nil {
		s.logger.ErrorContext(ctx, "append user message failed", slog.String("error", err.Error()))
	}
	if err := s.conversations.Append(ctx, conversationID, "assistant", answer, used); err != nil {
		s.logger.ErrorContext(ctx, "append assistant message failed", slog.String("error", err.Error()))
	}
	if err := s.usage.Insert(ctx, &store.UsageEntry{
		AccountID:       accountID,
		ConversationID:  conversationID,
		EstimatedTokens: estimated,
		ActualTokens:    used,
		ChargedTokens:   charged,
		Fallback:        fallback,
	}); err != nil {
		s.logger.ErrorContext(ctx, "usage log insert failed", slog.String("error", err.Error()))
	}
}

// Quota reports the account's current balances. The read runs through the
// ledger so expiry and monthly-reset transitions apply before the snapshot.
func (s *Service) Quota(ctx context.Context, accountID uuid.UUID) (*QuotaStatus, error) {
	now := s.now()
	state, err := s.ledger.Admit(ctx, accountID, 0, now)
	if err != nil && !errors.Is(err, quota.ErrSubscriptionExpired) {
		return nil, err
	}

	loc := s.resolver.Location()
	monthStart := time.Date(now.In(loc).Year(), now.In(loc).Month(), 1, 0, 0, 0, 0, loc)
	charged, err := s.usage.TotalsForAccount(ctx, accountID, monthStart, now)
	if err != nil {
		// The audit sum is informational; the balance snapshot stands on its own.
		s.logger.WarnContext(ctx, "usage totals lookup failed", slog.String("error", err.Error()))
		charged = 0
	}

	return &QuotaStatus{
		Package:            string(state.Package),
		PackageLimit:       state.PackageLimit,
		TokensUsedMonthly:  state.TokensUsedMonthly,
		PayAsYouGoTokens:   state.PayAsYouGoTokens,
		Remaining:          state.Remaining(),
		Unlimited:          state.PackageLimit == quota.Unlimited,
		ChargedThisMonth:   charged,
		TokensResetDate:    state.TokensResetDate,
		SubscriptionStatus: string(state.SubscriptionStatus),
	}, nil
}

// Conversation returns the message history for a conversation the account
// owns.
func (s *Service) Conversation(ctx context.Context, accountID, conversationID uuid.UUID) ([]store.ConversationMessage, error) {
	return s.conversations.Messages(ctx, accountID, conversationID)
}
