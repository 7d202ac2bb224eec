package anthropic

// CachedSystem returns a single system block marked for prompt caching.
// The auditor and extractor reuse long system prompts across every metric
// in a run, so a 5 minute TTL covers a whole audit.
func CachedSystem(text string) []SystemBlock {
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: "5m"}}}
}

// PlainSystem returns an uncached system block, or nil for empty text.
func PlainSystem(text string) []SystemBlock {
	if text == "" {
		return nil
	}
	return []SystemBlock{{Text: text}}
}
