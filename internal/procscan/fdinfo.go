package procscan

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// fdMetrics is the memory accounting of one DRM file descriptor.
type fdMetrics struct {
	VRAMBytes uint64
	GTTBytes  uint64
	HasMemory bool
	ClientID  int
}

func parseFDInfo(data []byte) fdMetrics {
	var metrics fdMetrics
	inMemory := false

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" {
			continue
		}

		lower := strings.ToLower(trimmed)
		switch {
		case strings.HasPrefix(lower, "drm-client-id"):
			if value, ok := parseIntValue(trimmed); ok {
				metrics.ClientID = value
			}
			continue
		case strings.HasPrefix(lower, "drm-memory:"):
			inMemory = true
			continue
		case strings.HasPrefix(lower, "drm-engine"), strings.HasPrefix(lower, "drm-cycles"):
			inMemory = false
			continue
		}

		switch {
		case strings.HasPrefix(lower, "drm-memory-vram"),
			strings.HasPrefix(lower, "drm-resident-vram"),
			strings.HasPrefix(lower, "amd-requested-vram"),
			inMemory && strings.HasPrefix(lower, "vram"):
			if value, ok := parseBytesValue(trimmed); ok {
				metrics.VRAMBytes = max(metrics.VRAMBytes, value)
				metrics.HasMemory = true
			}
		case strings.HasPrefix(lower, "drm-memory-gtt"),
			strings.HasPrefix(lower, "drm-resident-gtt"),
			strings.HasPrefix(lower, "amd-requested-gtt"),
			inMemory && strings.HasPrefix(lower, "gtt"):
			if value, ok := parseBytesValue(trimmed); ok {
				metrics.GTTBytes = max(metrics.GTTBytes, value)
				metrics.HasMemory = true
			}
		}
	}

	return metrics
}

func parseBytesValue(line string) (uint64, bool) {
	_, value, ok := strings.Cut(line, ":")
	if !ok {
		return 0, false
	}
	match := bytesValuePattern.FindStringSubmatch(strings.ToLower(value))
	if match == nil {
		return 0, false
	}

	amount, err := strconv.ParseFloat(match[1], 64)
	if err != nil || amount < 0 {
		return 0, false
	}
	return uint64(amount * float64(bytesUnitMultiplier(match[2]))), true
}

var bytesValuePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(bytes?|kib|kb|mib|mb|gib|gb|b)?`)

func bytesUnitMultiplier(unit string) uint64 {
	switch unit {
	case "kb", "kib":
		return 1024
	case "mb", "mib":
		return 1024 * 1024
	case "gb", "gib":
		return 1024 * 1024 * 1024
	default:
		return 1
	}
}

func parseIntValue(line string) (int, bool) {
	fields := strings.Fields(line)
	for i := len(fields) - 1; i >= 0; i-- {
		token := strings.Trim(fields[i], "(),")
		if token == "" {
			continue
		}
		value, err := strconv.Atoi(token)
		if err == nil {
			return value, true
		}
	}
	return 0, false
}
