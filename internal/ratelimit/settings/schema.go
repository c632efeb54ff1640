package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"chatguard/internal/ratelimit/models"
	dErrors "chatguard/pkg/domain-errors"
)

// Kind is the value type of an option.
type Kind string

const (
	KindBool      Kind = "bool"
	KindInt       Kind = "int"
	KindDuration  Kind = "duration"
	KindDurations Kind = "duration_list"
	KindMoney     Kind = "money"
)

// Option names.
const (
	RateLimitEnabled         = "rate_limit_enabled"
	RateLimitPerMinute       = "rate_limit_per_minute"
	RateLimitPerHour         = "rate_limit_per_hour"
	GlobalRateLimitPerMinute = "global_rate_limit_per_minute"
	GlobalRateLimitPerHour   = "global_rate_limit_per_hour"
	BanTiers                 = "ban_tiers"
	BanAfterViolations       = "ban_after_violations"
	ViolationCooldown        = "violation_cooldown"
	RateLimitFailClosed      = "rate_limit_fail_closed"

	ChallengeEnabled        = "challenge_enabled"
	ChallengeTTL            = "challenge_ttl"
	ChallengeMaxActive      = "challenge_max_active"
	ChallengeIssuePerMinute = "challenge_issue_per_minute"
	ChallengeIssuePerHour   = "challenge_issue_per_hour"
	ChallengeFailClosed     = "challenge_fail_closed"
	ChallengeBindIdentifier = "challenge_bind_identifier"

	CostThrottleEnabled  = "cost_throttle_enabled"
	CostLookback         = "cost_lookback"
	CostHighThreshold    = "cost_high_threshold"
	CostThrottleDuration = "cost_throttle_duration"
	CostDailyLimit       = "cost_daily_limit"
	CostHourlyLimit      = "cost_hourly_limit"
	CostDefaultEstimate  = "cost_default_estimate"
)

// Option describes one named setting. Min and Max bound the parsed value:
// a count for KindInt, nanoseconds for duration kinds, micro-units for KindMoney.
type Option struct {
	Name        string
	Kind        Kind
	Default     string
	Description string
	Min         int64
	Max         int64

	apply func(v *Values, parsed any)
}

const maxBanTiers = 10

var schema = []Option{
	{Name: RateLimitEnabled, Kind: KindBool, Default: "true",
		Description: "Enforce per-identifier and global request rate limits.",
		apply:       func(v *Values, p any) { v.RateLimitEnabled = p.(bool) }},
	{Name: RateLimitPerMinute, Kind: KindInt, Default: "60", Min: 1, Max: 1_000_000,
		Description: "Requests allowed per identifier per 60s window.",
		apply:       func(v *Values, p any) { v.RateLimitPerMinute = p.(int) }},
	{Name: RateLimitPerHour, Kind: KindInt, Default: "600", Min: 1, Max: 10_000_000,
		Description: "Requests allowed per identifier per 3600s window.",
		apply:       func(v *Values, p any) { v.RateLimitPerHour = p.(int) }},
	{Name: GlobalRateLimitPerMinute, Kind: KindInt, Default: "3000", Min: 1, Max: 100_000_000,
		Description: "Requests allowed across all callers per 60s window.",
		apply:       func(v *Values, p any) { v.GlobalRateLimitPerMinute = p.(int) }},
	{Name: GlobalRateLimitPerHour, Kind: KindInt, Default: "60000", Min: 1, Max: 1_000_000_000,
		Description: "Requests allowed across all callers per 3600s window.",
		apply:       func(v *Values, p any) { v.GlobalRateLimitPerHour = p.(int) }},
	{Name: BanTiers, Kind: KindDurations, Default: "1m,5m,15m,1h", Min: int64(time.Second), Max: int64(7 * 24 * time.Hour),
		Description: "Ban durations by consecutive violation, non-decreasing; the last tier caps escalation.",
		apply:       func(v *Values, p any) { v.BanTiers = p.([]time.Duration) }},
	{Name: BanAfterViolations, Kind: KindInt, Default: "1", Min: 1, Max: 100,
		Description: "Violations within the cooldown horizon before the first ban tier applies.",
		apply:       func(v *Values, p any) { v.BanAfterViolations = p.(int) }},
	{Name: ViolationCooldown, Kind: KindDuration, Default: "24h", Min: int64(time.Minute), Max: int64(30 * 24 * time.Hour),
		Description: "Quiet period after which the violation count resets.",
		apply:       func(v *Values, p any) { v.ViolationCooldown = p.(time.Duration) }},
	{Name: RateLimitFailClosed, Kind: KindBool, Default: "false",
		Description: "Reject requests when the rate-limit store is unreachable.",
		apply:       func(v *Values, p any) { v.RateLimitFailClosed = p.(bool) }},

	{Name: ChallengeEnabled, Kind: KindBool, Default: "true",
		Description: "Require a single-use challenge token on gated requests.",
		apply:       func(v *Values, p any) { v.ChallengeEnabled = p.(bool) }},
	{Name: ChallengeTTL, Kind: KindDuration, Default: "5m", Min: int64(time.Second), Max: int64(24 * time.Hour),
		Description: "Lifetime of an issued challenge token.",
		apply:       func(v *Values, p any) { v.ChallengeTTL = p.(time.Duration) }},
	{Name: ChallengeMaxActive, Kind: KindInt, Default: "15", Min: 1, Max: 1000,
		Description: "Unexpired, unconsumed challenges allowed per identifier.",
		apply:       func(v *Values, p any) { v.ChallengeMaxActive = p.(int) }},
	{Name: ChallengeIssuePerMinute, Kind: KindInt, Default: "10", Min: 1, Max: 100_000,
		Description: "Challenge issuance requests per identifier per 60s window.",
		apply:       func(v *Values, p any) { v.ChallengeIssuePerMinute = p.(int) }},
	{Name: ChallengeIssuePerHour, Kind: KindInt, Default: "100", Min: 1, Max: 1_000_000,
		Description: "Challenge issuance requests per identifier per 3600s window.",
		apply:       func(v *Values, p any) { v.ChallengeIssuePerHour = p.(int) }},
	{Name: ChallengeFailClosed, Kind: KindBool, Default: "false",
		Description: "Reject gated requests when the challenge store is unreachable.",
		apply:       func(v *Values, p any) { v.ChallengeFailClosed = p.(bool) }},
	{Name: ChallengeBindIdentifier, Kind: KindBool, Default: "true",
		Description: "Only accept a token from the identifier it was issued to.",
		apply:       func(v *Values, p any) { v.ChallengeBindIdentifier = p.(bool) }},

	{Name: CostThrottleEnabled, Kind: KindBool, Default: "true",
		Description: "Track estimated spend and enforce cost thresholds.",
		apply:       func(v *Values, p any) { v.CostThrottleEnabled = p.(bool) }},
	{Name: CostLookback, Kind: KindDuration, Default: "10m", Min: int64(time.Second), Max: int64(24 * time.Hour),
		Description: "Rolling window for the per-identifier recent cost sum.",
		apply:       func(v *Values, p any) { v.CostLookback = p.(time.Duration) }},
	{Name: CostHighThreshold, Kind: KindMoney, Default: "1.00", Min: 1, Max: 1_000_000 * 1_000_000,
		Description: "Recent cost above which an identifier is throttled.",
		apply:       func(v *Values, p any) { v.CostHighThreshold = p.(models.Money) }},
	{Name: CostThrottleDuration, Kind: KindDuration, Default: "15m", Min: int64(time.Second), Max: int64(7 * 24 * time.Hour),
		Description: "How long a throttled identifier stays throttled.",
		apply:       func(v *Values, p any) { v.CostThrottleDuration = p.(time.Duration) }},
	{Name: CostDailyLimit, Kind: KindMoney, Default: "50.00", Min: 1, Max: 1_000_000_000 * 1_000_000,
		Description: "Hard cap on global spend per UTC calendar day.",
		apply:       func(v *Values, p any) { v.CostDailyLimit = p.(models.Money) }},
	{Name: CostHourlyLimit, Kind: KindMoney, Default: "5.00", Min: 1, Max: 1_000_000_000 * 1_000_000,
		Description: "Hard cap on global spend per UTC calendar hour.",
		apply:       func(v *Values, p any) { v.CostHourlyLimit = p.(models.Money) }},
	{Name: CostDefaultEstimate, Kind: KindMoney, Default: "0.01", Min: 0, Max: 1_000 * 1_000_000,
		Description: "Estimated cost used when a request declares none.",
		apply:       func(v *Values, p any) { v.CostDefaultEstimate = p.(models.Money) }},
}

var schemaIndex = func() map[string]int {
	idx := make(map[string]int, len(schema))
	for i, opt := range schema {
		idx[opt.Name] = i
	}
	return idx
}()

// Options returns the schema in declaration order.
func Options() []Option {
	out := make([]Option, len(schema))
	copy(out, schema)
	return out
}

// Lookup finds an option by name.
func Lookup(name string) (Option, bool) {
	i, ok := schemaIndex[name]
	if !ok {
		return Option{}, false
	}
	return schema[i], true
}

// Parse converts raw to the option's Go type and checks its bounds.
func (o Option) Parse(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch o.Kind {
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, o.invalid("must be true or false")
		}
		return b, nil
	case KindInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, o.invalid("must be an integer")
		}
		if n < o.Min || n > o.Max {
			return nil, o.invalid(fmt.Sprintf("must be between %d and %d", o.Min, o.Max))
		}
		return int(n), nil
	case KindDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, o.invalid("must be a duration such as 90s or 15m")
		}
		if err := o.checkDuration(d); err != nil {
			return nil, err
		}
		return d, nil
	case KindDurations:
		return o.parseDurations(raw)
	case KindMoney:
		m, err := models.ParseMoney(raw)
		if err != nil {
			return nil, o.invalid("must be a non-negative decimal amount")
		}
		if m.Micros() < o.Min || m.Micros() > o.Max {
			return nil, o.invalid(fmt.Sprintf("must be between %s and %s", models.Money(o.Min), models.Money(o.Max)))
		}
		return m, nil
	default:
		return nil, o.invalid("has an unknown kind")
	}
}

// Normalize validates raw and returns its canonical encoding.
func (o Option) Normalize(raw string) (string, error) {
	parsed, err := o.Parse(raw)
	if err != nil {
		return "", err
	}
	return Format(parsed), nil
}

func (o Option) parseDurations(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	if len(parts) == 0 || len(parts) > maxBanTiers {
		return nil, o.invalid(fmt.Sprintf("must list between 1 and %d durations", maxBanTiers))
	}
	out := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return nil, o.invalid("must be a comma-separated list of durations")
		}
		if err := o.checkDuration(d); err != nil {
			return nil, err
		}
		if len(out) > 0 && d < out[len(out)-1] {
			return nil, o.invalid("durations must be non-decreasing")
		}
		out = append(out, d)
	}
	return out, nil
}

func (o Option) checkDuration(d time.Duration) error {
	if int64(d) < o.Min || int64(d) > o.Max {
		return o.invalid(fmt.Sprintf("must be between %s and %s", time.Duration(o.Min), time.Duration(o.Max)))
	}
	return nil
}

func (o Option) invalid(reason string) error {
	return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s %s", o.Name, reason))
}

// Format renders a parsed value in canonical string form.
func Format(v any) string {
	switch t := v.(type) {
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case time.Duration:
		return t.String()
	case []time.Duration:
		parts := make([]string, len(t))
		for i, d := range t {
			parts[i] = d.String()
		}
		return strings.Join(parts, ",")
	case models.Money:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

// ValidateUpdate checks every name and value and returns canonical encodings.
// Nothing is returned unless every entry is valid.
func ValidateUpdate(updates map[string]string) (map[string]string, error) {
	if len(updates) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one setting is required")
	}
	names := make([]string, 0, len(updates))
	for name := range updates {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(updates))
	for _, name := range names {
		opt, ok := Lookup(name)
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown setting %q", name))
		}
		normalized, err := opt.Normalize(updates[name])
		if err != nil {
			return nil, err
		}
		out[name] = normalized
	}
	return out, nil
}
