package insightshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tourops/tourops/internal/auth"
	"github.com/tourops/tourops/internal/insights"
	"github.com/tourops/tourops/internal/platform/httpx"
)

const (
	defaultRequestTimeout = 10 * time.Second
	fetchFailedMessage    = "Failed to fetch insights"
)

// Service exposes the business logic required by the handler.
type Service interface {
	Monthly(ctx context.Context, req insights.Request) (insights.Report, error)
}

// Handler serves the guide monthly insights endpoint.
type Handler struct {
	logger  *slog.Logger
	service Service
	scopes  auth.ScopeResolver
	timeout time.Duration
}

// NewHandler creates a monthly insights handler. A nil scope resolver leaves every
// request unrestricted by branch.
func NewHandler(logger *slog.Logger, service Service, scopes auth.ScopeResolver, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Handler{logger: logger, service: service, scopes: scopes, timeout: timeout}
}

func (h *Handler) handleMonthly(w http.ResponseWriter, r *http.Request) {
	actor := auth.ActorFromContext(r.Context())
	if actor == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized, fetchFailedMessage)
		return
	}
	month := strings.TrimSpace(r.URL.Query().Get("month"))

	if h.service == nil {
		h.handleServerError(w, actor, month, "service not configured", errors.New("insights: service not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	scope, err := h.resolveScope(ctx, actor)
	if err != nil {
		h.handleServerError(w, actor, month, "resolve scope", err)
		return
	}

	report, err := h.service.Monthly(ctx, insights.Request{Scope: scope, Month: month})
	if err != nil {
		h.handleServerError(w, actor, month, "load monthly insights", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) resolveScope(ctx context.Context, actor *auth.Actor) (insights.Scope, error) {
	scope := insights.Scope{GuideID: actor.ID}
	if h.scopes == nil {
		return scope, nil
	}
	branch, err := h.scopes.ResolveScope(ctx, actor.ID)
	if err != nil {
		return insights.Scope{}, fmt.Errorf("insights: %w", err)
	}
	if !branch.Global {
		scope.BranchID = branch.BranchID
	}
	return scope, nil
}

func (h *Handler) handleServerError(w http.ResponseWriter, actor *auth.Actor, month, message string, err error) {
	h.logger.Error(message,
		slog.String("guide_id", actor.ID.String()),
		slog.String("month", month),
		slog.Any("error", err),
	)
	httpx.Error(w, http.StatusInternalServerError, fetchFailedMessage)
}
