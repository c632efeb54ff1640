// Package admin implements the operator control surface: live settings,
// usage and decision counters, per-identifier inspection, ban lifting and the
// allowlist.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/ports"
	"chatguard/internal/ratelimit/settings"
	dErrors "chatguard/pkg/domain-errors"
	"chatguard/pkg/platform/audit"
	"chatguard/pkg/platform/sentinel"
	"chatguard/pkg/requestcontext"
)

//go:generate mockgen -source=service.go -destination=mocks/mocks.go -package=mocks SettingsManager,CostReader,ChallengeCounter

type (
	WindowStore    = ports.WindowStore
	AllowlistStore = ports.AllowlistStore
	StatsStore     = ports.StatsStore
	AuditPublisher = ports.AuditPublisher
)

// SettingsManager is the writable view of the settings source.
type SettingsManager interface {
	Entries(ctx context.Context) ([]settings.Entry, error)
	Set(ctx context.Context, updates map[string]string) ([]settings.Entry, error)
	Reset(ctx context.Context, names ...string) (int, error)
}

// CostReader exposes read-only cost state.
type CostReader interface {
	CurrentUsage(ctx context.Context) (*models.Usage, error)
	Inspect(ctx context.Context, identifier string) (*models.CostState, error)
}

// ChallengeCounter reports outstanding challenges per identifier.
type ChallengeCounter interface {
	ActiveCount(ctx context.Context, identifier string) (int, error)
}

// Dependencies are the collaborators the admin surface reads and mutates.
type Dependencies struct {
	Settings   SettingsManager
	Windows    WindowStore
	Allowlist  AllowlistStore
	Cost       CostReader
	Stats      StatsStore
	Challenges ChallengeCounter
}

// inspectedWindows are the per-identifier windows shown by InspectIdentifier.
var inspectedWindows = []time.Duration{time.Minute, time.Hour}

type Service struct {
	settings       SettingsManager
	windows        WindowStore
	allowlist      AllowlistStore
	cost           CostReader
	stats          StatsStore
	challenges     ChallengeCounter
	auditPublisher AuditPublisher
	logger         *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(deps Dependencies, opts ...Option) (*Service, error) {
	switch {
	case deps.Settings == nil:
		return nil, errors.New("settings manager is required")
	case deps.Windows == nil:
		return nil, errors.New("window store is required")
	case deps.Allowlist == nil:
		return nil, errors.New("allowlist store is required")
	case deps.Cost == nil:
		return nil, errors.New("cost reader is required")
	case deps.Stats == nil:
		return nil, errors.New("stats store is required")
	case deps.Challenges == nil:
		return nil, errors.New("challenge counter is required")
	}

	svc := &Service{
		settings:   deps.Settings,
		windows:    deps.Windows,
		allowlist:  deps.Allowlist,
		cost:       deps.Cost,
		stats:      deps.Stats,
		challenges: deps.Challenges,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

func (s *Service) Settings(ctx context.Context) ([]settings.Entry, error) {
	return s.settings.Entries(ctx)
}

// UpdateSettings applies a partial update. Unknown names or invalid values
// reject the whole update.
func (s *Service) UpdateSettings(ctx context.Context, req models.UpdateSettingsRequest, actor string) ([]settings.Entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	entries, err := s.settings.Set(ctx, req)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(req))
	for name := range req {
		names = append(names, name)
	}
	sort.Strings(names)
	changed := make([]string, 0, len(names))
	for _, name := range names {
		changed = append(changed, name+"="+req[name])
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventSettingsUpdated,
		"name", strings.Join(names, ","),
		"actor", actor,
		"changes", strings.Join(changed, ";"),
	)
	return entries, nil
}

// ResetSetting drops the dynamic override for name.
func (s *Service) ResetSetting(ctx context.Context, name, actor string) (bool, error) {
	removed, err := s.settings.Reset(ctx, name)
	if err != nil {
		return false, err
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventSettingsReset,
		"name", name,
		"actor", actor,
	)
	return removed > 0, nil
}

// -----------------------------------------------------------------------------
// Usage and counters
// -----------------------------------------------------------------------------

func (s *Service) Usage(ctx context.Context) (*models.Usage, error) {
	return s.cost.CurrentUsage(ctx)
}

func (s *Service) Stats(ctx context.Context) (*models.Stats, error) {
	stats, err := s.stats.Read(ctx, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "stats store unavailable")
	}
	return stats, nil
}

// -----------------------------------------------------------------------------
// Identifiers
// -----------------------------------------------------------------------------

// InspectIdentifier combines rate-limit, cost and challenge state for one caller.
func (s *Service) InspectIdentifier(ctx context.Context, identifier string) (*models.IdentifierState, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "identifier is required")
	}

	window, err := s.windows.Inspect(ctx, models.ScopeIdentifier, identifier, inspectedWindows)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limit store unavailable")
	}
	cost, err := s.cost.Inspect(ctx, identifier)
	if err != nil {
		return nil, err
	}
	active, err := s.challenges.ActiveCount(ctx, identifier)
	if err != nil {
		return nil, err
	}

	return &models.IdentifierState{
		Identifier:        identifier,
		Banned:            window.Banned,
		BanRemaining:      window.BanRemaining,
		ViolationCount:    window.ViolationCount,
		Throttled:         cost.Throttled,
		ThrottleRemaining: cost.ThrottleRemaining,
		RecentCost:        cost.RecentCost,
		ActiveChallenges:  active,
		WindowCounts:      window.Counts,
	}, nil
}

// LiftBan clears identifier's ban and violation history. It reports whether
// there was anything to clear.
func (s *Service) LiftBan(ctx context.Context, identifier, actor string) (bool, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return false, dErrors.New(dErrors.CodeValidation, "identifier is required")
	}
	cleared, err := s.windows.ClearBan(ctx, models.ScopeIdentifier, identifier)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeUnavailable, "rate limit store unavailable")
	}
	if cleared {
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventBanLifted,
			"identifier", identifier,
			"actor", actor,
		)
	}
	return cleared, nil
}

// -----------------------------------------------------------------------------
// Allowlist
// -----------------------------------------------------------------------------

func (s *Service) AddAllowlist(ctx context.Context, req *models.AddAllowlistRequest, actor string) (*models.AllowlistEntry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	entry, err := models.NewAllowlistEntry(req.IP, req.Reason, actor, req.ExpiresAt, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.allowlist.Add(ctx, entry); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add allowlist entry")
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventAllowlistAdded,
		"ip", entry.IP,
		"reason", entry.Reason,
		"actor", actor,
	)
	return entry, nil
}

func (s *Service) RemoveAllowlist(ctx context.Context, ip, actor string) error {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return dErrors.New(dErrors.CodeValidation, "ip is required")
	}
	if err := s.allowlist.Remove(ctx, ip); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "allowlist entry not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove allowlist entry")
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventAllowlistRemoved,
		"ip", ip,
		"actor", actor,
	)
	return nil
}

func (s *Service) ListAllowlist(ctx context.Context) ([]*models.AllowlistEntry, error) {
	entries, err := s.allowlist.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list allowlist")
	}
	return entries, nil
}
