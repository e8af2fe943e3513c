// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"net/url"
	"strconv"
)

// parseLimit reads a page size. Missing or unparsable values fall back to
// def; anything else is clamped into [1, maxN].
func parseLimit(raw string, def, maxN int) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return max(1, min(n, maxN))
}

// difficultyParam accepts both ?diff= (the game client) and ?difficulty=.
func difficultyParam(q url.Values) string {
	if d := q.Get("diff"); d != "" {
		return d
	}
	return q.Get("difficulty")
}
