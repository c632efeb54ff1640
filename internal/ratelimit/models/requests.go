package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	dErrors "chatguard/pkg/domain-errors"
)

type AddAllowlistRequest struct {
	IP        string     `json:"ip"`
	Reason    string     `json:"reason"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r *AddAllowlistRequest) Normalize() {
	if r == nil {
		return
	}
	r.IP = strings.TrimSpace(r.IP)
	r.Reason = strings.TrimSpace(r.Reason)
}

// Follows validation order: Size -> Required -> Syntax -> Semantic.
func (r *AddAllowlistRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}

	if len(r.IP) > 64 {
		return dErrors.New(dErrors.CodeValidation, "ip must be 64 characters or less")
	}
	if len(r.Reason) > 500 {
		return dErrors.New(dErrors.CodeValidation, "reason must be 500 characters or less")
	}

	if r.IP == "" {
		return dErrors.New(dErrors.CodeValidation, "ip is required")
	}
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}

	if _, err := netip.ParseAddr(r.IP); err != nil {
		return dErrors.New(dErrors.CodeValidation, "ip must be a valid IPv4 or IPv6 address")
	}

	if r.ExpiresAt != nil && r.ExpiresAt.Before(time.Now()) {
		return dErrors.New(dErrors.CodeValidation, "expires_at must be in the future")
	}

	return nil
}

// UpdateSettingsRequest is a partial update: option name to encoded value.
// Names not present are left unchanged. JSON numbers and booleans are
// accepted alongside strings, and an array of scalars is joined with commas.
type UpdateSettingsRequest map[string]string

func (r *UpdateSettingsRequest) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(UpdateSettingsRequest, len(raw))
	for name, value := range raw {
		encoded, err := settingValue(value)
		if err != nil {
			return fmt.Errorf("setting %q: %w", name, err)
		}
		out[name] = encoded
	}
	*r = out
	return nil
}

func settingValue(value json.RawMessage) (string, error) {
	value = bytes.TrimSpace(value)
	if len(value) == 0 {
		return "", errors.New("value is required")
	}
	switch value[0] {
	case '"':
		var s string
		err := json.Unmarshal(value, &s)
		return s, err
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return "", err
		}
		parts := make([]string, 0, len(items))
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) > 0 && (item[0] == '[' || item[0] == '{') {
				return "", errors.New("nested values are not supported")
			}
			part, err := settingValue(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return strings.Join(parts, ","), nil
	case '{':
		return "", errors.New("objects are not supported")
	case 'n':
		return "", errors.New("null is not a value")
	default:
		// true, false or a number: the literal is already the encoding.
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			return "", err
		}
		return string(value), nil
	}
}

// Follows validation order: Size -> Required. Per-option syntax and range
// checks belong to the settings schema.
func (r UpdateSettingsRequest) Validate() error {
	if len(r) > 64 {
		return dErrors.New(dErrors.CodeValidation, "too many settings in one update")
	}
	if len(r) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one setting is required")
	}
	for name, value := range r {
		if len(name) > 64 || len(value) > 256 {
			return dErrors.New(dErrors.CodeValidation, "setting name or value too long")
		}
	}
	return nil
}
