package config

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const (
	// Day is 24 hours.
	Day = 24 * time.Hour
	// Week is 7 days.
	Week = 7 * Day
)

// dayUnitPattern matches day and week components, e.g. "30d", "2 weeks".
var dayUnitPattern = regexp.MustCompile(`(?i)(\d+)\s*(weeks?|w|days?|d)`)

// ParseDuration extends time.ParseDuration with days and weeks, so retention
// windows can be written as "30d" or "1w2d12h".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimSpace(strings.TrimPrefix(s, "-"))

	var hours int64
	rest := dayUnitPattern.ReplaceAllStringFunc(s, func(match string) string {
		m := dayUnitPattern.FindStringSubmatch(match)
		n, _ := strconv.ParseInt(m[1], 10, 64)
		if strings.HasPrefix(strings.ToLower(m[2]), "w") {
			n *= 7
		}
		hours += n * 24
		return ""
	})
	rest = strings.Join(strings.Fields(rest), "")

	var sb strings.Builder
	if hours > 0 {
		sb.WriteString(strconv.FormatInt(hours, 10) + "h")
	}
	sb.WriteString(rest)
	if sb.Len() == 0 {
		return 0, fmt.Errorf("duration: invalid value %q", s)
	}

	d, err := time.ParseDuration(sb.String())
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// FormatDuration renders d using whole days where possible, the inverse of
// ParseDuration for the values config dump prints.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	days := d / Day
	rest := d % Day
	if days == 0 {
		return d.String()
	}
	if rest == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%s", days, rest)
}

// stringToDurationHook decodes strings with ParseDuration.
func stringToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return ParseDuration(reflect.ValueOf(data).String())
	}
}
