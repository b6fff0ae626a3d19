// Package proctitle names the running process after its service role so
// replicas are easy to tell apart in ps and top.
package proctitle

import "strings"

// maxLen is the kernel's comm limit, excluding the trailing NUL.
const maxLen = 15

// Title is the process name for role, for example "huemap-gateway".
func Title(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ""
	}
	t := "huemap-" + role
	if len(t) > maxLen {
		t = t[:maxLen]
	}
	return t
}

// SetRole applies Title(role). An empty role is a no-op.
func SetRole(role string) error {
	t := Title(role)
	if t == "" {
		return nil
	}
	return set(t)
}
