package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/settings"
	"chatguard/pkg/platform/httputil"
	"chatguard/pkg/requestcontext"
)

type settingsResponse struct {
	Settings []settings.Entry `json:"settings"`
}

type resetSettingResponse struct {
	Name    string `json:"name"`
	Removed bool   `json:"removed"`
}

type liftBanResponse struct {
	Identifier string `json:"identifier"`
	Cleared    bool   `json:"cleared"`
}

func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.Settings(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to read settings", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &settingsResponse{Settings: entries})
}

// HandleUpdateSettings applies a partial update. Nothing is written unless
// every name and value is valid.
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.UpdateSettingsRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	entries, err := h.admin.UpdateSettings(ctx, *req, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, "failed to update settings", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &settingsResponse{Settings: entries})
}

func (h *Handler) HandleResetSetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	removed, err := h.admin.ResetSetting(r.Context(), name, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, "failed to reset setting", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &resetSettingResponse{Name: name, Removed: removed})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.admin.Usage(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to read cost usage", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, usage)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to read stats", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) HandleInspectIdentifier(w http.ResponseWriter, r *http.Request) {
	state, err := h.admin.InspectIdentifier(r.Context(), chi.URLParam(r, "identifier"))
	if err != nil {
		h.writeServiceError(w, r, "failed to inspect identifier", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.IdentifierStateResponseFrom(state))
}

func (h *Handler) HandleLiftBan(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	cleared, err := h.admin.LiftBan(r.Context(), identifier, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, "failed to lift ban", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &liftBanResponse{Identifier: identifier, Cleared: cleared})
}

func (h *Handler) HandleListAllowlist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.ListAllowlist(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "failed to list allowlist", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.AllowlistListResponse{Entries: entries})
}

func (h *Handler) HandleAddAllowlist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.AddAllowlistRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	entry, err := h.admin.AddAllowlist(ctx, req, actorFrom(r))
	if err != nil {
		h.writeServiceError(w, r, "failed to add allowlist entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.AllowlistEntryResponse{
		Allowlisted: true,
		IP:          entry.IP,
		ExpiresAt:   entry.ExpiresAt,
	})
}

// HandleRemoveAllowlist takes the address from the ip query parameter.
func (h *Handler) HandleRemoveAllowlist(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if err := h.admin.RemoveAllowlist(r.Context(), ip, actorFrom(r)); err != nil {
		h.writeServiceError(w, r, "failed to remove allowlist entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.AllowlistEntryResponse{Allowlisted: false, IP: ip})
}
