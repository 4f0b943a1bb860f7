package vcs

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/mod/semver"
)

var versionPattern = regexp.MustCompile(`\d+(\.\d+){0,2}`)

// NormalizeVersion extracts a semver string ("v2.39.0") from tool output such
// as "git version 2.39.0.windows.1" or "jj 0.32.0-abc". It returns "" when no
// version number is present.
func NormalizeVersion(raw string) string {
	m := versionPattern.FindString(raw)
	if m == "" {
		return ""
	}
	v := "v" + m
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}

// CheckMinVersion returns ErrToolUnavailable when the version reported by
// the tool is older than min. An empty min accepts anything.
func CheckMinVersion(tool, raw, min string) error {
	if min == "" {
		return nil
	}

	want := NormalizeVersion(min)
	if want == "" {
		return fmt.Errorf("invalid minimum %s version %q", tool, min)
	}

	have := NormalizeVersion(raw)
	if have == "" {
		return fmt.Errorf("%w: cannot parse %s version from %q", ErrToolUnavailable, tool, strings.TrimSpace(raw))
	}

	if semver.Compare(have, want) < 0 {
		return fmt.Errorf("%w: %s %s is older than required %s", ErrToolUnavailable, tool, have, want)
	}
	return nil
}
