package format

import (
	"regexp"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ParseResult contains plain text and message entities
type ParseResult struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

// UTF16Len calculates the UTF-16 length of a string.
// Telegram entity offsets and lengths are in UTF-16 code units.
func UTF16Len(s string) int {
	length := 0
	for _, b := range []byte(s) {
		if (b & 0xc0) != 0x80 {
			if b >= 0xf0 {
				length += 2 // surrogate pair
			} else {
				length++
			}
		}
	}
	return length
}

var headerRe = regexp.MustCompile(`(?m)^#{1,6}\s+(.+?)$`)

// ParseMarkdown converts a small Markdown subset to Telegram message entities:
//   - **bold**, __bold__ and "# Header" lines become bold
//   - *italic* and _italic_ become italic
//   - `code` becomes code
//
// A backslash escapes the next marker character. Spans do not nest or cross lines.
func ParseMarkdown(text string) ParseResult {
	text = headerRe.ReplaceAllString(text, "**$1**")

	var (
		b        strings.Builder
		entities []tgbotapi.MessageEntity
		offset   int
	)
	write := func(s string) {
		b.WriteString(s)
		offset += UTF16Len(s)
	}

	for i := 0; i < len(text); {
		if text[i] == '\\' && i+1 < len(text) && isMarker(text[i+1]) {
			write(text[i+1 : i+2])
			i += 2
			continue
		}
		if m, typ := markerAt(text, i); m != "" {
			start := i + len(m)
			if end := closing(text, start, m); end > start {
				inner := unescape(text[start:end])
				entities = append(entities, tgbotapi.MessageEntity{
					Type:   typ,
					Offset: offset,
					Length: UTF16Len(inner),
				})
				write(inner)
				i = end + len(m)
				continue
			}
		}
		write(text[i : i+1])
		i++
	}

	return ParseResult{
		Text:     strings.TrimRight(b.String(), " \n"),
		Entities: entities,
	}
}

// Escape makes s render literally through ParseMarkdown.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if isMarker(s[i]) {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isMarker(c byte) bool {
	return c == '*' || c == '_' || c == '`' || c == '\\'
}

func markerAt(text string, i int) (string, string) {
	switch {
	case strings.HasPrefix(text[i:], "**"):
		return "**", "bold"
	case strings.HasPrefix(text[i:], "__"):
		return "__", "bold"
	case text[i] == '`':
		return "`", "code"
	case text[i] == '*':
		return "*", "italic"
	case text[i] == '_':
		// snake_case identifiers stay plain
		if i > 0 && isWordByte(text[i-1]) {
			return "", ""
		}
		return "_", "italic"
	}
	return "", ""
}

// closing returns the index of the unescaped marker m closing a span that
// starts at from, or -1.
func closing(text string, from int, m string) int {
	for j := from; j < len(text); j++ {
		switch {
		case text[j] == '\n':
			return -1
		case text[j] == '\\' && j+1 < len(text) && isMarker(text[j+1]):
			j++
		case strings.HasPrefix(text[j:], m):
			// a single marker must not close on the first half of a double one
			if len(m) == 1 && strings.HasPrefix(text[j+1:], m) {
				j++
				continue
			}
			return j
		}
	}
	return -1
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && isMarker(s[i+1]) {
			i++
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
