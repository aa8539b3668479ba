package reply

import (
	"regexp"
	"strings"
)

var (
	boldDoubleStarRe  = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	italicStarRe      = regexp.MustCompile(`\*([^*]+)\*`)
	boldUnderscoreRe  = regexp.MustCompile(`__([^_]+)__`)
	italicUnderscoreRe = regexp.MustCompile(`_([^_]+)_`)
	leadingBulletRe   = regexp.MustCompile(`(?m)^\s*\*\s+`)
	midBulletRe       = regexp.MustCompile(`\s*\*\s+`)
	headingRe         = regexp.MustCompile(`(?m)^#+\s+`)
	markdownLinkRe    = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	codeFenceRe       = regexp.MustCompile(`(?s)` + "```" + `[^` + "`" + `]*` + "```")
	inlineCodeRe      = regexp.MustCompile("`([^`]+)`")
	newlinesRe        = regexp.MustCompile(`\n+`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
)

// CleanTextForTTS strips markdown formatting that a TTS engine would
// otherwise read aloud literally, collapsing whitespace in the result.
func CleanTextForTTS(text string) string {
	if text == "" {
		return text
	}

	text = boldDoubleStarRe.ReplaceAllString(text, "$1")
	text = italicStarRe.ReplaceAllString(text, "$1")
	text = boldUnderscoreRe.ReplaceAllString(text, "$1")
	text = italicUnderscoreRe.ReplaceAllString(text, "$1")

	text = leadingBulletRe.ReplaceAllString(text, "")
	text = midBulletRe.ReplaceAllString(text, " ")

	text = headingRe.ReplaceAllString(text, "")

	text = markdownLinkRe.ReplaceAllString(text, "$1")

	text = codeFenceRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "$1")

	text = newlinesRe.ReplaceAllString(text, " ")
	text = whitespaceRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
