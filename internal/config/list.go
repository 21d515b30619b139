// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseList parses a list of numbers in [min, max], e.g. "1,2,5-10".
func ParseList(input string, min, max int) ([]int, error) {
	var out []int
	parts := strings.Split(input, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			// Range
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(ranges[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			if start < min || end > max {
				return nil, fmt.Errorf("range %d-%d outside %d-%d", start, end, min, max)
			}
			for i := start; i <= end; i++ {
				out = append(out, i)
			}
		} else {
			// Single
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("invalid number: %w", err)
			}
			if n < min || n > max {
				return nil, fmt.Errorf("%d outside %d-%d", n, min, max)
			}
			out = append(out, n)
		}
	}
	return out, nil
}
