// Package handler exposes challenge issuance, the gated chat placeholder and
// the admin control surface over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"chatguard/internal/ratelimit/middleware"
	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/settings"
	dErrors "chatguard/pkg/domain-errors"
	"chatguard/pkg/platform/httputil"
	"chatguard/pkg/requestcontext"
)

// HeaderAdminActor names the operator in audit events. Defaults to defaultActor.
const (
	HeaderAdminActor = "X-Admin-Actor"
	defaultActor     = "admin"
)

// ChallengeIssuer hands out challenge tokens.
type ChallengeIssuer interface {
	Issue(ctx context.Context, identifier string) (*models.ChallengeIssue, error)
}

// AdminService is the operator control surface.
type AdminService interface {
	Settings(ctx context.Context) ([]settings.Entry, error)
	UpdateSettings(ctx context.Context, req models.UpdateSettingsRequest, actor string) ([]settings.Entry, error)
	ResetSetting(ctx context.Context, name, actor string) (bool, error)
	Usage(ctx context.Context) (*models.Usage, error)
	Stats(ctx context.Context) (*models.Stats, error)
	InspectIdentifier(ctx context.Context, identifier string) (*models.IdentifierState, error)
	LiftBan(ctx context.Context, identifier, actor string) (bool, error)
	AddAllowlist(ctx context.Context, req *models.AddAllowlistRequest, actor string) (*models.AllowlistEntry, error)
	RemoveAllowlist(ctx context.Context, ip, actor string) error
	ListAllowlist(ctx context.Context) ([]*models.AllowlistEntry, error)
}

type Handler struct {
	challenges ChallengeIssuer
	admin      AdminService
	logger     *slog.Logger
}

func New(challenges ChallengeIssuer, admin AdminService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		challenges: challenges,
		admin:      admin,
		logger:     logger,
	}
}

// RegisterPublic mounts the caller-facing routes. guard wraps the gated action.
func (h *Handler) RegisterPublic(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Post("/v1/challenge", h.HandleIssueChallenge)
	r.With(guard).Post("/v1/chat", h.HandleChat)
}

// RegisterAdmin mounts the control surface under /admin/guard. The caller
// is expected to apply admin authentication to r.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Route("/admin/guard", func(r chi.Router) {
		r.Get("/settings", h.HandleGetSettings)
		r.Patch("/settings", h.HandleUpdateSettings)
		r.Delete("/settings/{name}", h.HandleResetSetting)
		r.Get("/usage", h.HandleUsage)
		r.Get("/stats", h.HandleStats)
		r.Get("/identifiers/{identifier}", h.HandleInspectIdentifier)
		r.Delete("/identifiers/{identifier}/ban", h.HandleLiftBan)
		r.Get("/allowlist", h.HandleListAllowlist)
		r.Post("/allowlist", h.HandleAddAllowlist)
		r.Delete("/allowlist", h.HandleRemoveAllowlist)
	})
}

// HandleIssueChallenge issues a token to the resolved caller.
func (h *Handler) HandleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := requestcontext.Identifier(ctx)

	issue, err := h.challenges.Issue(ctx, identifier)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue challenge",
			"request_id", requestcontext.RequestID(ctx),
			"identifier", identifier,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	switch issue.Outcome {
	case models.ChallengeIssued:
		httputil.WriteJSON(w, http.StatusOK, &models.ChallengeResponse{
			Token:     issue.Token,
			ExpiresAt: issue.ExpiresAt,
		})
	case models.ChallengeDisabled:
		httputil.WriteJSON(w, http.StatusOK, &models.ChallengeDisabledResponse{Enabled: false})
	default:
		middleware.WriteIssueRejection(w, issue)
	}
}

// HandleChat stands in for the expensive action. Reaching it means every
// gate admitted the request.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusAccepted, &models.ChatAcceptedResponse{
		Status:    "accepted",
		RequestID: requestcontext.RequestID(r.Context()),
	})
}

func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(HeaderAdminActor)); actor != "" {
		return actor
	}
	return defaultActor
}

// writeServiceError logs server-side failures and writes the mapped response.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	if de, ok := dErrors.As(err); !ok || !de.Code.IsClientError() {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
