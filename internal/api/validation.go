package api

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 50
)

// validateUsername checks a profile display name.
func validateUsername(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < minUsernameLen {
		return fmt.Errorf("username must be at least %d characters", minUsernameLen)
	}
	if n > maxUsernameLen {
		return fmt.Errorf("username too long (max %d characters)", maxUsernameLen)
	}
	return nil
}

// localRedirect returns target if it is a path on this site, or "" otherwise.
// Absolute URLs, scheme-relative URLs ("//host") and backslash tricks are rejected.
func localRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return ""
	}
	u, err := url.Parse(target)
	if err != nil || u.IsAbs() || u.Host != "" {
		return ""
	}
	return target
}
