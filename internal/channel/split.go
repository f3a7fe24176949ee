package channel

import (
	"strings"
	"unicode/utf8"
)

// splitMessage cuts msg into chunks of at most maxLen bytes, preferring
// newline boundaries and never splitting a UTF-8 sequence.
func splitMessage(msg string, maxLen int) []string {
	return splitAt(msg, maxLen, nil)
}

// splitHTML is splitMessage for Telegram HTML: a cut never lands inside a
// tag, an entity or an <a> element.
func splitHTML(msg string, maxLen int) []string {
	return splitAt(msg, maxLen, htmlCut)
}

func splitAt(msg string, maxLen int, adjust func(s string, cut int) int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		// Try to split on a newline.
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		if adjust != nil && cut > 0 {
			if c := adjust(msg, cut); c > 0 {
				cut = c
			}
		}
		if cut == 0 {
			cut = maxLen
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}

// htmlCut moves cut back to the start of a tag, entity or <a> element it
// would otherwise fall into. Zero means no safe cut exists before cut.
func htmlCut(s string, cut int) int {
	head := s[:cut]
	if lt := strings.LastIndexByte(head, '<'); lt > strings.LastIndexByte(head, '>') {
		head = head[:lt]
	}
	if amp := strings.LastIndexByte(head, '&'); amp >= 0 && !strings.Contains(head[amp:], ";") {
		head = head[:amp]
	}
	if open := strings.LastIndex(head, "<a "); open > strings.LastIndex(head, "</a>") {
		head = head[:open]
	}
	return len(head)
}
