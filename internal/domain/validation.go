package domain

import (
	"fmt"
	"strconv"
)

func errEmptySettingValue(key string) error {
	return fmt.Errorf("setting %q: value must not be empty", key)
}

func errInvalidSettingValue(key, value string) error {
	return fmt.Errorf("setting %q: invalid value %q", key, value)
}

func errUnknownSettingKey(key string) error {
	return fmt.Errorf("unknown setting key %q", key)
}

func validateHeartbeatInterval(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("setting %q: not an integer: %w", SettingHeartbeatInterval, err)
	}
	if n < 10 || n > 300 {
		return fmt.Errorf("setting %q: must be between 10 and 300, got %d", SettingHeartbeatInterval, n)
	}
	return nil
}

// ClampHeartbeatInterval clamps an arbitrary integer into the valid
// heartbeat-interval range (spec §3: "clamped 10-300").
func ClampHeartbeatInterval(n int) int {
	if n < 10 {
		return 10
	}
	if n > 300 {
		return 300
	}
	return n
}
