// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package content turns provider email bodies into storable message content.
//
// Sanitisation here is deliberately regex-based and conservative: it strips
// script, style and link elements and neutralises javascript: and data: URL
// schemes. It is not a full HTML parse. Known limitations:
//   - event-handler attributes (onclick=...) survive unless their value
//     starts with a javascript: scheme;
//   - the scheme patterns also match plain text such as "data: 42", which
//     loses the text up to the next quote or tag bracket;
//   - whitespace inside the scheme name (java\tscript:) is not matched;
//   - entity-encoded schemes (&#106;avascript:) are not decoded first.
//
// The raw, unsanitised body is always kept in the raw email archive.
package content

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

// EmptyPlaceholder is stored when a delivery carries no body at all.
const EmptyPlaceholder = "Empty message"

var (
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlock  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	strayOpen   = regexp.MustCompile(`(?i)<(?:script|style)\b[^>]*>`)
	linkTag     = regexp.MustCompile(`(?i)<link\b[^>]*>`)
	jsScheme    = regexp.MustCompile(`(?i)\s*javascript\s*:[^'"<>]*`)
	dataScheme  = regexp.MustCompile(`(?i)\s*data\s*:[^'"<>]*`)
)

var quoteLines = []*regexp.Regexp{
	regexp.MustCompile(`^\s*On .+? wrote:\s*$`),
	regexp.MustCompile(`^\s*From:.+$`),
	regexp.MustCompile(`^\s*-----Original Message-----\s*$`),
	regexp.MustCompile(`^\s*>+.*$`),
}

// Normalizer prepares message content. MaxInputBytes bounds the amount of
// attacker-controlled input the regexes run over; zero means unbounded.
type Normalizer struct {
	MaxInputBytes int
}

// Normalize picks HTML when present, falls back to an HTML-safe rendering
// of the text body, and finally to EmptyPlaceholder.
func (n Normalizer) Normalize(htmlBody, textBody string) string {
	htmlBody = truncate(htmlBody, n.MaxInputBytes)
	textBody = truncate(textBody, n.MaxInputBytes)

	if strings.TrimSpace(htmlBody) != "" {
		if clean := Sanitize(htmlBody); strings.TrimSpace(clean) != "" {
			return clean
		}
	}
	if strings.TrimSpace(textBody) != "" {
		return TextToHTML(textBody)
	}
	return EmptyPlaceholder
}

// Normalize is Normalizer.Normalize without an input bound.
func Normalize(htmlBody, textBody string) string {
	return Normalizer{}.Normalize(htmlBody, textBody)
}

var sanitizePasses = []*regexp.Regexp{scriptBlock, styleBlock, strayOpen, linkTag, jsScheme, dataScheme}

// Sanitize removes active content from an HTML fragment. The passes repeat
// until the output is stable, so a removal cannot reassemble a tag that an
// earlier pass already scanned for. Every pass only deletes, so the loop
// terminates.
func Sanitize(s string) string {
	for {
		prev := s
		for _, re := range sanitizePasses {
			s = re.ReplaceAllString(s, "")
		}
		if s == prev {
			return s
		}
	}
}

// TextToHTML escapes a plain-text body, wraps quoted reply lines in
// <div class="email-quote"> and converts newlines to line breaks.
func TextToHTML(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	var b strings.Builder
	for i, line := range lines {
		escaped := html.EscapeString(line)
		if isQuoteLine(line) {
			escaped = `<div class="email-quote">` + escaped + `</div>`
		}
		b.WriteString(escaped)
		if i < len(lines)-1 {
			b.WriteString("<br />\n")
		}
	}
	return b.String()
}

func isQuoteLine(line string) bool {
	for _, re := range quoteLines {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	s = s[:limit]
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
