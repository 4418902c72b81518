// Package directive parses model-override directives out of an issue
// description, per spec.md §4.8 step 2 and the design notes' "bounded set
// of directive grammars captured in a single parser module; unknown
// directives are ignored, never guessed." Grounded on internal/engine/
// parser.go's single-entry-point validation-module shape.
package directive

import (
	"regexp"
	"strings"

	"github.com/relayforge/relay/internal/domain"
)

// bracketed matches "[provider=anthropic]" or "[model=anthropic]".
var bracketed = regexp.MustCompile(`(?i)\[(?:provider|model)\s*=\s*([a-z0-9_-]+)\]`)

// naturalLanguage matches phrasing like "use anthropic for this" or
// "run this with anthropic".
var naturalLanguage = regexp.MustCompile(`(?i)\b(?:use|run (?:this|it) with)\s+([a-z0-9_-]+)\b`)

// repoTag matches "[repo=my-service]" for repository overrides, used by
// the Orchestrator's routing step (spec.md §4.8 step 1's "[repo=X] tag").
var repoTag = regexp.MustCompile(`(?i)\[repo\s*=\s*([a-zA-Z0-9_./-]+)\]`)

// ParseProviderOverride extracts an optional provider-override directive from an issue
// description. It returns ("", false) if no recognized grammar matches;
// unrecognized bracket forms are ignored rather than guessed at.
func ParseProviderOverride(description string) (domain.ProviderType, bool) {
	if m := bracketed.FindStringSubmatch(description); m != nil {
		return domain.ProviderType(strings.ToLower(m[1])), true
	}
	if m := naturalLanguage.FindStringSubmatch(description); m != nil {
		return domain.ProviderType(strings.ToLower(m[1])), true
	}
	return "", false
}

// ParseRepoTag extracts an optional "[repo=X]" tag from an issue
// description, the last-resort routing signal in spec.md §4.8 step 1.
func ParseRepoTag(description string) (string, bool) {
	if m := repoTag.FindStringSubmatch(description); m != nil {
		return m[1], true
	}
	return "", false
}
