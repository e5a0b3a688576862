package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleCount accepts a JSON number or a numeric string. Browser clients
// are inconsistent about how they serialize the tab-switch counter.
type FlexibleCount int

func (fc *FlexibleCount) UnmarshalJSON(data []byte) error {
	if fc == nil {
		return fmt.Errorf("FlexibleCount: nil receiver")
	}
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var n int
	if err := json.Unmarshal(trimmed, &n); err == nil {
		*fc = FlexibleCount(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		parsed, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("FlexibleCount: %q is not a number", s)
		}
		*fc = FlexibleCount(parsed)
		return nil
	}

	return fmt.Errorf("FlexibleCount: expected number or numeric string, got %s", string(data))
}

func (fc FlexibleCount) Int() int {
	return int(fc)
}
