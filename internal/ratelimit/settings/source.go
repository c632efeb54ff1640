package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"chatguard/internal/ratelimit/metrics"
	dErrors "chatguard/pkg/domain-errors"
)

// SourceTag names the layer a resolved value came from.
type SourceTag string

const (
	SourceDynamic SourceTag = "dynamic"
	SourceStatic  SourceTag = "static"
	SourceDefault SourceTag = "default"
)

// DynamicStore is the operator-mutable layer.
type DynamicStore interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, values map[string]string) error
	Delete(ctx context.Context, names ...string) (int, error)
}

// Notifier fans cache invalidations out to other processes.
type Notifier interface {
	PublishInvalidation(ctx context.Context) error
	SubscribeInvalidations(ctx context.Context, onMessage func()) error
}

// Entry is the admin view of one option.
type Entry struct {
	Name        string    `json:"name"`
	Kind        Kind      `json:"kind"`
	Value       string    `json:"value"`
	Source      SourceTag `json:"source"`
	Default     string    `json:"default"`
	Description string    `json:"description"`
}

type resolved struct {
	values  Values
	entries []Entry
}

const flightKey = "settings"

// Source resolves settings through dynamic, static and default layers.
type Source struct {
	store        DynamicStore
	notifier     Notifier
	static       *StaticFile
	logger       *slog.Logger
	metrics      *metrics.Metrics
	cacheTTL     time.Duration
	storeTimeout time.Duration
	now          func() time.Time

	group      singleflight.Group
	mu         sync.Mutex
	cached     *resolved
	cachedAt   time.Time
	generation uint64
}

type SourceOption func(*Source)

func WithLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger
	}
}

func WithStatic(static *StaticFile) SourceOption {
	return func(s *Source) {
		s.static = static
	}
}

// WithCacheTTL enables a read-through cache. Zero disables caching.
func WithCacheTTL(ttl time.Duration) SourceOption {
	return func(s *Source) {
		s.cacheTTL = ttl
	}
}

func WithMetrics(m *metrics.Metrics) SourceOption {
	return func(s *Source) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) SourceOption {
	return func(s *Source) {
		s.now = now
	}
}

func WithStoreTimeout(d time.Duration) SourceOption {
	return func(s *Source) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// New builds a Source. A store that also implements Notifier receives and
// publishes cross-process invalidations.
func New(store DynamicStore, opts ...SourceOption) (*Source, error) {
	if store == nil {
		return nil, errors.New("settings store is required")
	}
	s := &Source{
		store:        store,
		static:       NewStaticValues(nil),
		logger:       slog.Default(),
		storeTimeout: 250 * time.Millisecond,
		now:          time.Now,
	}
	if n, ok := store.(Notifier); ok {
		s.notifier = n
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot returns the resolved values. It never fails: layers that cannot be
// read are skipped.
func (s *Source) Snapshot(ctx context.Context) Values {
	r := s.load(ctx)
	v := r.values
	v.BanTiers = append([]time.Duration(nil), v.BanTiers...)
	return v
}

// Entries reads through every layer and reports each value with its origin.
// It fails when the dynamic layer is unreachable so operators never mistake
// fallback values for stored ones.
func (s *Source) Entries(ctx context.Context) ([]Entry, error) {
	dynamic, err := s.readDynamic(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "settings store unavailable")
	}
	return s.resolve(dynamic).entries, nil
}

// Get returns one option's resolved entry.
func (s *Source) Get(ctx context.Context, name string) (Entry, error) {
	if _, ok := Lookup(name); !ok {
		return Entry{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown setting %q", name))
	}
	for _, e := range s.load(ctx).entries {
		if e.Name == name {
			return e, nil
		}
	}
	return Entry{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown setting %q", name))
}

// Set validates every update, writes them to the dynamic layer and
// invalidates the cache before returning. Nothing is written if any entry is
// invalid.
func (s *Source) Set(ctx context.Context, updates map[string]string) ([]Entry, error) {
	normalized, err := ValidateUpdate(updates)
	if err != nil {
		return nil, err
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.store.Set(storeCtx, normalized); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "settings store unavailable")
	}
	s.Invalidate()
	s.publish(ctx)
	return s.Entries(ctx)
}

// Reset removes dynamic overrides so the static or default layer applies again.
func (s *Source) Reset(ctx context.Context, names ...string) (int, error) {
	if len(names) == 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "at least one setting is required")
	}
	for _, name := range names {
		if _, ok := Lookup(name); !ok {
			return 0, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("unknown setting %q", name))
		}
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	removed, err := s.store.Delete(storeCtx, names...)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeUnavailable, "settings store unavailable")
	}
	s.Invalidate()
	s.publish(ctx)
	return removed, nil
}

// Invalidate drops the cached snapshot. Loads already in flight cannot
// repopulate the cache afterwards.
func (s *Source) Invalidate() {
	s.invalidate("local")
}

func (s *Source) invalidate(origin string) {
	s.mu.Lock()
	s.generation++
	s.cached = nil
	s.mu.Unlock()
	s.group.Forget(flightKey)
	s.metrics.RecordSettingsInvalidation(origin)
}

// Run follows remote invalidations and static file edits until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.notifier != nil {
		g.Go(func() error {
			return s.notifier.SubscribeInvalidations(ctx, func() {
				s.invalidate("remote")
			})
		})
	}
	if s.static != nil && s.static.Path() != "" {
		g.Go(func() error {
			return s.static.Watch(ctx, func() {
				s.invalidate("file")
			})
		})
	}
	return g.Wait()
}

func (s *Source) publish(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	if err := s.notifier.PublishInvalidation(storeCtx); err != nil {
		s.logger.WarnContext(ctx, "failed to publish settings invalidation", "error", err)
	}
}

func (s *Source) load(ctx context.Context) *resolved {
	var gen uint64
	if s.cacheTTL > 0 {
		s.mu.Lock()
		if s.cached != nil && s.now().Sub(s.cachedAt) < s.cacheTTL {
			r := s.cached
			s.mu.Unlock()
			return r
		}
		gen = s.generation
		s.mu.Unlock()
	}

	v, _, _ := s.group.Do(flightKey, func() (any, error) {
		dynamic, err := s.readDynamic(ctx)
		if err != nil {
			s.metrics.RecordSettingsStoreError()
			s.logger.WarnContext(ctx, "settings store unavailable, using static and default layers", "error", err)
			dynamic = nil
		}
		return s.resolve(dynamic), nil
	})
	r := v.(*resolved)

	if s.cacheTTL > 0 {
		s.mu.Lock()
		if s.generation == gen {
			s.cached = r
			s.cachedAt = s.now()
		}
		s.mu.Unlock()
	}
	return r
}

func (s *Source) readDynamic(ctx context.Context) (map[string]string, error) {
	storeCtx, cancel := s.storeContext(ctx)
	defer cancel()
	return s.store.GetAll(storeCtx)
}

func (s *Source) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
}

func (s *Source) resolve(dynamic map[string]string) *resolved {
	var static map[string]string
	if s.static != nil {
		static = s.static.Values()
	}

	r := &resolved{entries: make([]Entry, 0, len(schema))}
	for _, opt := range schema {
		parsed, tag := s.resolveOne(opt, dynamic, static)
		opt.apply(&r.values, parsed)
		r.entries = append(r.entries, Entry{
			Name:        opt.Name,
			Kind:        opt.Kind,
			Value:       Format(parsed),
			Source:      tag,
			Default:     opt.Default,
			Description: opt.Description,
		})
	}
	return r
}

func (s *Source) resolveOne(opt Option, dynamic, static map[string]string) (any, SourceTag) {
	if raw, ok := dynamic[opt.Name]; ok {
		parsed, err := opt.Parse(raw)
		if err == nil {
			return parsed, SourceDynamic
		}
		s.rejectStored(opt.Name, SourceDynamic, raw, err)
	}
	if raw, ok := static[opt.Name]; ok {
		parsed, err := opt.Parse(raw)
		if err == nil {
			return parsed, SourceStatic
		}
		s.rejectStored(opt.Name, SourceStatic, raw, err)
	}
	parsed, err := opt.Parse(opt.Default)
	if err != nil {
		panic("settings: invalid default for " + opt.Name + ": " + err.Error())
	}
	return parsed, SourceDefault
}

func (s *Source) rejectStored(name string, layer SourceTag, raw string, err error) {
	s.logger.Warn("ignoring invalid stored setting",
		"name", name,
		"layer", string(layer),
		"value", raw,
		"error", err,
	)
	s.metrics.RecordSettingInvalid(name, string(layer))
}
