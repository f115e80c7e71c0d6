package models

import (
	"strings"
	"time"
)

// StreamDelta carries the opportunities that changed since the previous
// broadcast cycle plus the trend ids that dropped out of the ranking.
type StreamDelta struct {
	Seq       uint64        `json:"seq"`
	Tick      uint64        `json:"tick"`
	Updated   []Opportunity `json:"updated,omitempty"`
	Removed   []string      `json:"removed,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// StreamFilter narrows which opportunities a subscriber receives.
// Zero-value fields match everything.
type StreamFilter struct {
	Platforms  []string `json:"platforms,omitempty"`
	Categories []string `json:"categories,omitempty"`
	MinScore   float64  `json:"min_score,omitempty"`
}

// Match reports whether an opportunity passes the filter.
func (f StreamFilter) Match(o Opportunity) bool {
	if o.CompositeScore < f.MinScore {
		return false
	}
	if len(f.Categories) > 0 && !containsFold(f.Categories, o.Category) {
		return false
	}
	if len(f.Platforms) > 0 {
		found := false
		for p := range o.PlatformCounts {
			if containsFold(f.Platforms, p) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
