package rules

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/multierr"

	"github.com/rackwatch/rackwatch/internal/location"
)

// knownLocationTypes are the names rule conditions may use in location-type
// lists. FINAL is a legacy alias for STORAGE carried over from older rule
// sets.
var knownLocationTypes = map[string]location.Type{
	"STORAGE":      location.TypeStorage,
	"FINAL":        location.TypeStorage,
	"RECEIVING":    location.TypeReceiving,
	"STAGING":      location.TypeStaging,
	"DOCK":         location.TypeDock,
	"SHIPPING":     location.TypeDock,
	"TRANSITIONAL": location.TypeTransitional,
	"UNKNOWN":      location.TypeUnknown,
}

// parseLocationTypes resolves a condition list into a location-type set.
// Every finding is aggregated so a bad rule reports all of its problems at
// once.
func parseLocationTypes(field string, names []string) (map[location.Type]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	set := make(map[location.Type]bool, len(names))
	var errs error
	for i, name := range names {
		t, ok := knownLocationTypes[strings.ToUpper(strings.TrimSpace(name))]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("rules: %s[%d] unknown location type %q", field, i, name))
			continue
		}
		set[t] = true
	}
	if errs != nil {
		return nil, errs
	}
	return set, nil
}

// compileGlob compiles one pattern, folded to upper case so matching is
// case-insensitive against upper-cased subjects.
func compileGlob(field, pattern string) (glob.Glob, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(pattern))
	if trimmed == "" {
		return nil, fmt.Errorf("rules: %s requires a pattern", field)
	}
	g, err := glob.Compile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("rules: %s pattern %q: %w", field, pattern, err)
	}
	return g, nil
}

// compileGlobs compiles a pattern list, aggregating failures.
func compileGlobs(field string, patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	var errs error
	for i, pattern := range patterns {
		g, err := compileGlob(fmt.Sprintf("%s[%d]", field, i), pattern)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		globs = append(globs, g)
	}
	if errs != nil {
		return nil, errs
	}
	return globs, nil
}

// matchAny reports whether any compiled pattern matches the upper-cased
// subject.
func matchAny(globs []glob.Glob, subject string) bool {
	upper := strings.ToUpper(subject)
	for _, g := range globs {
		if g.Match(upper) {
			return true
		}
	}
	return false
}
