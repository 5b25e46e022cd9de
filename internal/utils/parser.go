package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
)

// ParseSizeToMB converts strings like "20G", "500M", "20000" into Megabytes.
// Default unit is MB if no suffix is provided.
func ParseSizeToMB(sizeStr string) (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(sizeStr))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	// A bare number is already in MB
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid size: %s (must not be negative)", sizeStr)
		}
		return n, nil
	}

	mb, err := bytefmt.ToMegabytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %s (expected '20G', '500M', etc.)", sizeStr)
	}
	return int64(mb), nil
}

// ParseDuration parses a duration string supporting multiple formats:
//   - Go duration: "2h", "30m", "1h30m", "90s"
//   - HH:MM:SS format: "02:00:00", "2:30:00", "00:30:00"
//   - H:MM format: "2:30" (interpreted as hours:minutes)
//   - bare integer: seconds
//
// Returns the duration in time.Duration format.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}

	// Try HH:MM:SS or H:MM:SS or HH:MM format first
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		nums := make([]int, len(parts))
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return 0, fmt.Errorf("invalid time component %q in %s", p, s)
			}
			nums[i] = n
		}
		switch len(nums) {
		case 2:
			return time.Duration(nums[0])*time.Hour + time.Duration(nums[1])*time.Minute, nil
		case 3:
			return time.Duration(nums[0])*time.Hour +
				time.Duration(nums[1])*time.Minute +
				time.Duration(nums[2])*time.Second, nil
		default:
			return 0, fmt.Errorf("invalid time format: %s (use HH:MM:SS or HH:MM)", s)
		}
	}

	// Try Go duration format (2h, 30m, 1h30m, etc.)
	dur, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s (use '60s', '2m', or '00:01:00')", s)
	}
	return dur, nil
}

// ParseClock parses an HH:MM:SS clock reading as reported by PBS/Torque
// (hours may exceed 24).
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid clock value: %q (expected HH:MM:SS)", s)
	}
	var total time.Duration
	units := []time.Duration{time.Hour, time.Minute, time.Second}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid clock value: %q", s)
		}
		total += time.Duration(n) * units[i]
	}
	return total, nil
}

// SplitArgs splits a free-form argument string on whitespace, honouring
// single and double quotes. Quotes are removed from the result.
func SplitArgs(s string) ([]string, error) {
	var args []string
	var cur strings.Builder
	var quote rune
	inArg := false

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t' || r == '\n':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in %q", s)
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}
