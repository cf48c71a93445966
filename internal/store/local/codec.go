package local

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// decodeValue parses a stored value.
//
// Values written by current versions are JSON. Older installs stored some
// slots as bare strings or numbers, so when JSON parsing fails the raw text
// is coerced to a bool, then a number, and finally returned as-is.
func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}

	switch raw {
	case "true":
		return true
	case "false":
		return false
	}

	if strings.TrimSpace(raw) != "" {
		if n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && !math.IsInf(n, 0) && !math.IsNaN(n) {
			return n
		}
	}

	return raw
}

// encodeValue serializes v for storage.
func encodeValue(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value: %w", err)
	}
	return string(data), nil
}
