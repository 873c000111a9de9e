package handler

import (
	"encoding/json"
	"regexp"
	"strings"
)

// TimestampEntry is one element of the timestamps array produced by the
// Timestamp Adapter (spec §4.5 step 6).
type TimestampEntry struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

var (
	fencedJSONRe  = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")
	arraySubstrRe = regexp.MustCompile(`(?s)\[.*\]`)
	entryRe       = regexp.MustCompile(`(?s)\{\s*"timestamp"\s*:\s*"([^"]*)"\s*,\s*"text"\s*:\s*"([^"]*)"\s*\}`)
	pairRe        = regexp.MustCompile(`(?m)^\s*([0-9:.,\-]+)\s*[-:]\s*(.+)$`)
)

// parseTimestampsJSON feeds candidate into json.Unmarshal and returns a
// non-empty array, or nil if it doesn't decode to one.
func parseTimestampsJSON(candidate string) []TimestampEntry {
	var entries []TimestampEntry
	if err := json.Unmarshal([]byte(candidate), &entries); err != nil {
		return nil
	}
	if len(entries) == 0 {
		return nil
	}
	return entries
}

// ParseTimestamps runs the cascade described in spec §4.5 step 6 and §8's
// testable property: raw parse, markdown-fence extraction, array-substring
// extraction, regex over individual `{timestamp, text}` entries, regex
// over loosely formatted `timestamp - text` lines. The first strategy that
// yields a non-empty array wins; if none do, it returns nil (persisted as
// a null timestamps_json).
func ParseTimestamps(raw string) []TimestampEntry {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if entries := parseTimestampsJSON(raw); entries != nil {
		return entries
	}

	if m := fencedJSONRe.FindStringSubmatch(raw); m != nil {
		if entries := parseTimestampsJSON(m[1]); entries != nil {
			return entries
		}
	}

	if m := arraySubstrRe.FindString(raw); m != "" {
		if entries := parseTimestampsJSON(m); entries != nil {
			return entries
		}
	}

	if matches := entryRe.FindAllStringSubmatch(raw, -1); len(matches) > 0 {
		entries := make([]TimestampEntry, 0, len(matches))
		for _, m := range matches {
			entries = append(entries, TimestampEntry{Timestamp: m[1], Text: strings.TrimSpace(m[2])})
		}
		return entries
	}

	if matches := pairRe.FindAllStringSubmatch(raw, -1); len(matches) > 0 {
		entries := make([]TimestampEntry, 0, len(matches))
		for _, m := range matches {
			entries = append(entries, TimestampEntry{Timestamp: strings.TrimSpace(m[1]), Text: strings.TrimSpace(m[2])})
		}
		return entries
	}

	return nil
}
