package utils

import (
	"fmt"
	"log/slog"
	"strconv"
)

func ParseIntWithDefault(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn(fmt.Sprintf("ParseIntWithDefault error: %v", err))
		return defaultValue
	}
	return result
}

// ParseUint 路径参数中的条目ID
func ParseUint(value string) (uint, error) {
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q: %w", value, err)
	}
	return uint(result), nil
}

func Deref[T any](p *T, defaultValue T) T {
	if p != nil {
		return *p
	}
	return defaultValue
}
