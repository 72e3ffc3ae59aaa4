package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// transform is a pure string rewrite applied after a value is found.
type transform func(string) string

var (
	firstIntRe      = regexp.MustCompile(`\d+`)
	yearCloseDateRe = regexp.MustCompile(`(\d{4})\s*\(Fecha Cierre\s+(\d{2}/\d{2}/\d{4})\)`)
	lastSeenRe      = regexp.MustCompile(`última vez el (.+?) y (\d+) veces`)
	spaceRe         = regexp.MustCompile(`\s+`)
)

// parseTransform compiles a "name" or "name:arg" definition.
func parseTransform(def string) (transform, error) {
	name, arg, hasArg := strings.Cut(def, ":")
	switch strings.TrimSpace(name) {
	case "first_int":
		return func(v string) string {
			if m := firstIntRe.FindString(v); m != "" {
				return m
			}
			return v
		}, nil
	case "strip_suffix":
		if !hasArg || arg == "" {
			return nil, fmt.Errorf("transform %q requires an argument", name)
		}
		return func(v string) string {
			if i := strings.Index(v, arg); i >= 0 {
				return strings.TrimSpace(v[:i])
			}
			return v
		}, nil
	case "after":
		if !hasArg || arg == "" {
			return nil, fmt.Errorf("transform %q requires an argument", name)
		}
		return func(v string) string {
			if _, rest, ok := strings.Cut(v, arg); ok {
				return strings.TrimSpace(rest)
			}
			return v
		}, nil
	case "year_close_date":
		return func(v string) string {
			if m := yearCloseDateRe.FindStringSubmatch(v); m != nil {
				return m[1] + " (" + m[2] + ")"
			}
			return v
		}, nil
	case "last_seen_count":
		return func(v string) string {
			if m := lastSeenRe.FindStringSubmatch(v); m != nil {
				return m[1] + " - " + m[2] + " veces"
			}
			return v
		}, nil
	case "truncate":
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("transform %q needs a positive length, got %q", name, arg)
		}
		return func(v string) string { return truncateRunes(v, n) }, nil
	case "newlines":
		sep := arg
		if !hasArg {
			sep = " | "
		}
		return func(v string) string { return strings.ReplaceAll(v, "\n", sep) }, nil
	case "trim":
		return strings.TrimSpace, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
}

func truncateRunes(v string, n int) string {
	if n <= 0 {
		return v
	}
	runes := []rune(v)
	if len(runes) <= n {
		return v
	}
	return string(runes[:n])
}

// collapseLines collapses whitespace inside each line and drops blank lines.
func collapseLines(v string) string {
	lines := strings.Split(v, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(spaceRe.ReplaceAllString(line, " ")); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// collapseSpace folds every whitespace run, newlines included, to one space.
func collapseSpace(v string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(v, " "))
}
