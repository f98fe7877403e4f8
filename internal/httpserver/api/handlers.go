package api

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/formsight/formsight/internal/app"
	"github.com/formsight/formsight/internal/httpserver/httputil"
	"github.com/formsight/formsight/internal/insights"
	"github.com/formsight/formsight/internal/limits"
	"github.com/formsight/formsight/internal/quota"
	"github.com/formsight/formsight/internal/store"
)

type insightsHandler struct {
	container *app.Container
	service   *insights.Service
}

type askPayload struct {
	Question        string   `json:"question"`
	Period          string   `json:"period"`
	FormID          string   `json:"formId"`
	UserID          string   `json:"userId"`
	SelectedFormIDs []string `json:"selectedFormIds"`
	ConversationID  string   `json:"conversationId"`
}

func (h *insightsHandler) ask(c *fiber.Ctx) error {
	ident := identityFrom(c)
	if ident == nil {
		return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "authorization required")
	}

	var payload askPayload
	if err := c.BodyParser(&payload); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeInvalidQuestion, "invalid request body")
	}

	req := insights.AskRequest{
		AccountID: ident.AccountID,
		AgencyID:  ident.AgencyID,
		Question:  payload.Question,
		Period:    payload.Period,
	}
	var err error
	if req.FormID, err = parseOptionalUUID(payload.FormID); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeInvalidQuestion, "invalid formId")
	}
	if req.UserID, err = parseOptionalUUID(payload.UserID); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeInvalidQuestion, "invalid userId")
	}
	if req.ConversationID, err = parseOptionalUUID(payload.ConversationID); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeInvalidQuestion, "invalid conversationId")
	}
	for _, raw := range payload.SelectedFormIDs {
		id, parseErr := uuid.Parse(strings.TrimSpace(raw))
		if parseErr != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeInvalidQuestion, "invalid selectedFormIds entry")
		}
		req.SelectedFormIDs = append(req.SelectedFormIDs, id)
	}

	// Replay a completed response for a retried request id instead of
	// charging the account twice.
	requestKey := strings.TrimSpace(c.Get("Idempotency-Key"))
	if cached, ok := h.container.Answers.Get(c.UserContext(), ident.AccountID, requestKey); ok {
		return c.Status(fiber.StatusOK).JSON(cached)
	}

	if err := h.container.RateLimiter.Allow(c.UserContext(), ident.AccountID); err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			h.container.Observability.RecordQuotaRejection("rate_limited")
			return httputil.WriteError(c, fiber.StatusTooManyRequests, httputil.CodeRateLimited, "too many requests")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, httputil.CodeInternal, "")
	}
	// The request context may already be canceled once the response is out;
	// releasing on it would leak the semaphore slot until its TTL.
	defer h.container.RateLimiter.Release(context.Background(), ident.AccountID)

	resp, err := h.service.Ask(c.UserContext(), req)
	if err != nil {
		return h.writeAskError(c, err)
	}

	h.container.Observability.RecordTokensCharged(resp.Meta.Package, int64(resp.Meta.UserTokensCharged))
	h.container.Answers.Set(c.UserContext(), ident.AccountID, requestKey, resp)

	return c.Status(fiber.StatusOK).JSON(resp)
}

func (h *insightsHandler) writeAskError(c *fiber.Ctx, err error) error {
	var insufficient *quota.InsufficientTokensError
	switch {
	case errors.Is(err, insights.ErrInvalidQuestion):
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeInvalidQuestion, err.Error())
	case errors.As(err, &insufficient):
		h.container.Observability.RecordQuotaRejection("insufficient_tokens")
		return httputil.WriteErrorDetails(c, fiber.StatusPaymentRequired, httputil.CodeInsufficientTokens,
			"token balance too low for this request", fiber.Map{
				"required":         insufficient.Required,
				"available":        insufficient.Available,
				"packageLimit":     insufficient.PackageLimit,
				"payAsYouGoTokens": insufficient.PayAsYouGoTokens,
			})
	case errors.Is(err, quota.ErrSubscriptionExpired):
		h.container.Observability.RecordQuotaRejection("subscription_expired")
		return httputil.WriteError(c, fiber.StatusPaymentRequired, httputil.CodeSubscriptionExpired, "subscription expired")
	case errors.Is(err, quota.ErrAccountNotFound):
		return httputil.WriteError(c, fiber.StatusNotFound, httputil.CodeAccountNotFound, "account not found")
	case errors.Is(err, insights.ErrDataLoad):
		return httputil.WriteError(c, fiber.StatusBadGateway, httputil.CodeDataLoadError, "could not load submission data")
	default:
		h.container.Logger.Error("ask request failed", "error", err.Error())
		return httputil.WriteError(c, fiber.StatusInternalServerError, httputil.CodeInternal, "")
	}
}

func (h *insightsHandler) quotaStatus(c *fiber.Ctx) error {
	ident := identityFrom(c)
	if ident == nil {
		return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "authorization required")
	}

	status, err := h.service.Quota(c.UserContext(), ident.AccountID)
	if err != nil {
		if errors.Is(err, quota.ErrAccountNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, httputil.CodeAccountNotFound, "account not found")
		}
		h.container.Logger.Error("quota lookup failed", "error", err.Error())
		return httputil.WriteError(c, fiber.StatusInternalServerError, httputil.CodeInternal, "")
	}
	return c.JSON(status)
}

func (h *insightsHandler) conversation(c *fiber.Ctx) error {
	ident := identityFrom(c)
	if ident == nil {
		return httputil.WriteError(c, fiber.StatusUnauthorized, httputil.CodeUnauthorized, "authorization required")
	}

	conversationID, err := uuid.Parse(c.Params("conversationID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, httputil.CodeInvalidQuestion, "invalid conversation id")
	}

	messages, err := h.service.Conversation(c.UserContext(), ident.AccountID, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, httputil.CodeNotFound, "conversation not found")
		}
		h.container.Logger.Error("conversation lookup failed", "error", err.Error())
		return httputil.WriteError(c, fiber.StatusInternalServerError, httputil.CodeInternal, "")
	}

	out := make([]fiber.Map, 0, len(messages))
	for _, msg := range messages {
		out = append(out, fiber.Map{
			"id":         msg.ID,
			"role":       msg.Role,
			"content":    msg.Content,
			"tokensUsed": msg.TokensUsed,
			"createdAt":  msg.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{
		"conversationId": conversationID,
		"messages":       out,
	})
}

func parseOptionalUUID(raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
