package router

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxContent caps inbound content, in runes.
const DefaultMaxContent = 64000

// sanitizer cleans inbound text before it is interpreted.
type sanitizer struct {
	keywords []string
	strip    *regexp.Regexp // whole-word keyword, with or without '#'
	hashtag  *regexp.Regexp // #keyword as a complete hashtag
	maxRunes int
}

func newSanitizer(keywords []string, maxRunes int) sanitizer {
	s := sanitizer{maxRunes: maxRunes}
	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		s.keywords = append(s.keywords, kw)
		quoted = append(quoted, regexp.QuoteMeta(kw))
	}
	if len(quoted) > 0 {
		alt := strings.Join(quoted, "|")
		s.strip = regexp.MustCompile(`(?i)#?\b(?:` + alt + `)\b`)
		s.hashtag = regexp.MustCompile(`(?i)#(?:` + alt + `)\b`)
	}
	return s
}

// clean strips control characters (keeping newlines and tabs), caps the
// length, and removes trigger keywords. ok is false when nothing but
// keywords was sent.
func (s sanitizer) clean(content string) (string, bool) {
	content = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, content)

	if s.maxRunes > 0 && utf8.RuneCountInString(content) > s.maxRunes {
		content = string([]rune(content)[:s.maxRunes])
	}

	trimmed := strings.ToLower(strings.TrimSpace(content))
	for _, kw := range s.keywords {
		if trimmed == kw || trimmed == "#"+kw {
			return "", false
		}
	}

	if s.strip != nil {
		content = s.strip.ReplaceAllString(content, "")
	}
	content = strings.TrimSpace(content)
	return content, content != ""
}

// mentions reports whether content carries #keyword for any trigger.
func (s sanitizer) mentions(content string) bool {
	return s.hashtag != nil && s.hashtag.MatchString(content)
}

// isKeyword reports whether v is a trigger, ignoring case.
func (s sanitizer) isKeyword(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, kw := range s.keywords {
		if v == kw {
			return true
		}
	}
	return false
}
