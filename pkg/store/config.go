package store

import (
	"slices"
	"strings"
)

// ValidateConfig checks a backend option map against the backend's
// enumerated key set, rejecting anything unrecognized with a
// KindUnknownConfigurationKey error. Keys are compared case-insensitively.
func ValidateConfig(scheme string, options map[string]string, allowed ...string) error {
	for k := range options {
		if !slices.Contains(allowed, strings.ToLower(k)) {
			return Errorf(KindUnknownConfigurationKey, scheme, "", "unknown configuration key %q", k)
		}
	}
	return nil
}

// ConfigValue reads an option from a map case-insensitively, returning the
// fallback when absent.
func ConfigValue(options map[string]string, key, fallback string) string {
	for k, v := range options {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return fallback
}

// ConfigBool interprets an option as a boolean ("true"/"false", case
// insensitive); anything else, including absence, yields the fallback.
func ConfigBool(options map[string]string, key string, fallback bool) bool {
	switch strings.ToLower(ConfigValue(options, key, "")) {
	case "true":
		return true
	case "false":
		return false
	default:
		return fallback
	}
}
