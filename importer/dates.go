package importer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Canonical shipping modes.
const (
	ModeAir    = "Air"
	ModeSea    = "Sea"
	ModeGround = "Ground"
)

var (
	reDashMDY   = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})$`)
	reSlashYMD  = regexp.MustCompile(`^(\d{4})/(\d{1,2})/(\d{1,2})$`)
	reSlashMDYY = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{2})$`)
	reSlashMDY  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	reDashYMD   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
)

// ParseDate parses a heterogeneous raw date value into a UTC-midnight time.
// Time-of-day is always discarded: downstream equality checks and ETA
// arithmetic work at calendar-date granularity. Unparseable or out-of-range
// values yield nil, never an error.
func ParseDate(raw interface{}) *time.Time {
	switch v := raw.(type) {
	case nil:
		return nil
	case time.Time:
		if v.IsZero() {
			return nil
		}
		return utcMidnight(v)
	case *time.Time:
		if v == nil {
			return nil
		}
		return ParseDate(*v)
	case primitive.DateTime:
		return utcMidnight(v.Time())
	case string:
		return parseDateString(strings.TrimSpace(v))
	}
	return nil
}

func parseDateString(s string) *time.Time {
	if s == "" {
		return nil
	}

	// M(M)-D(D)-YYYY, with a heuristic: a first component above 12 can only
	// be a day, so the string is read day-first instead.
	if m := reDashMDY.FindStringSubmatch(s); m != nil {
		first, second, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if first > 12 {
			return makeDate(year, second, first)
		}
		return makeDate(year, first, second)
	}

	if m := reSlashYMD.FindStringSubmatch(s); m != nil {
		return makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	// M/D/YY, two-digit years assumed 20xx.
	if m := reSlashMDYY.FindStringSubmatch(s); m != nil {
		return makeDate(2000+atoi(m[3]), atoi(m[1]), atoi(m[2]))
	}

	if m := reSlashMDY.FindStringSubmatch(s); m != nil {
		return makeDate(atoi(m[3]), atoi(m[1]), atoi(m[2]))
	}

	if m := reDashYMD.FindStringSubmatch(s); m != nil {
		return makeDate(atoi(m[1]), atoi(m[2]), atoi(m[3]))
	}

	// ISO datetimes keep only their date part.
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04:05.000Z"} {
		if t, err := time.Parse(layout, s); err == nil {
			return utcMidnight(t)
		}
	}

	// Generic fallback for the long tail of spreadsheet formats.
	for _, layout := range []string{"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "02-Jan-2006", time.RFC1123} {
		if t, err := time.Parse(layout, s); err == nil {
			return utcMidnight(t)
		}
	}

	return nil
}

// makeDate validates calendar components and returns the UTC-midnight date.
// time.Date normalizes overflow (Feb 30 becomes Mar 2), so the round-trip
// check rejects out-of-range days instead of silently shifting them.
func makeDate(year, month, day int) *time.Time {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return nil
	}
	return &t
}

func utcMidnight(t time.Time) *time.Time {
	u := t.UTC()
	midnight := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
	return &midnight
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// FormatShippingMode normalizes a free-text shipping mode into its canonical
// form. Unrecognized values pass through unchanged; empty input stays empty.
func FormatShippingMode(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	switch strings.ToUpper(trimmed) {
	case "AIR":
		return ModeAir
	case "SEA", "BOAT":
		return ModeSea
	case "GROUND":
		return ModeGround
	default:
		return trimmed
	}
}

// ComputeEta derives an estimated arrival date from a ship date and mode:
// air +14 days, sea +35, ground +3. Missing mode or date yields nil.
func ComputeEta(shipDate *time.Time, mode string) *time.Time {
	if shipDate == nil || mode == "" {
		return nil
	}
	var days int
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "AIR":
		days = 14
	case "SEA", "BOAT":
		days = 35
	case "GROUND":
		days = 3
	default:
		return nil
	}
	eta := shipDate.AddDate(0, 0, days)
	return &eta
}

// modeCompatible reports whether a stored allocation mode matches the
// imported mode. Both sides present must match case-insensitively; an absent
// side is treated as compatible.
func modeCompatible(allocationMode, importMode string) bool {
	if allocationMode == "" || importMode == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(allocationMode), strings.TrimSpace(importMode))
}
