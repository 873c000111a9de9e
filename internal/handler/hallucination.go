package handler

import "strings"

const untranscribableMarker = "[untranscribable]"

// containsHallucinationToken reports whether text contains any of the
// operator-configured confabulation tokens (spec §4.5/§7), case-insensitive.
func containsHallucinationToken(tokens []string, text string) bool {
	lower := strings.ToLower(text)
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

// filterChunkTranscript implements spec §4.5's sanity check for one chunk:
// a hallucinating chunk is replaced by an inline marker rather than
// propagated, so a single bad chunk doesn't poison the whole transcript.
func filterChunkTranscript(tokens []string, text string) string {
	if containsHallucinationToken(tokens, text) {
		return untranscribableMarker
	}
	return text
}

// isWhollyHallucinated reports whether every chunk transcript (an empty one
// included) was replaced by the untranscribable marker, which spec §4.5 treats as a
// handler-level PoisonInput error rather than a partially-filtered
// transcript.
func isWhollyHallucinated(chunks []string) bool {
	if len(chunks) == 0 {
		return false
	}
	for _, c := range chunks {
		if c != untranscribableMarker {
			return false
		}
	}
	return true
}
