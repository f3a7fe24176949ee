// Package emoji rewrites emoji graphemes in an HTML fragment into inline
// image references so rasterized text shows the same glyphs on every host.
package emoji

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/rivo/uniseg"
)

// DefaultBaseURL serves 72x72 PNG assets named by code point key.
const DefaultBaseURL = "https://cdn.jsdelivr.net/gh/twitter/twemoji@14.0.2/assets/72x72"

const (
	variationSelector = 0xFE0F
	zeroWidthJoiner   = 0x200D
)

type runeRange struct{ lo, hi rune }

var emojiRanges = []runeRange{
	{0x2600, 0x27BF},   // misc symbols, dingbats
	{0x1F300, 0x1F5FF}, // pictographs
	{0x1F600, 0x1F64F}, // emoticons
	{0x1F680, 0x1F6FF}, // transport and map
	{0x1F900, 0x1F9FF}, // supplemental symbols
	{0x1FA70, 0x1FAFF}, // symbols and pictographs extended-a
	{0x1F1E6, 0x1F1FF}, // regional indicators
}

var rainbowFlag = []rune{0x1F3F3, 0xFE0F, 0x200D, 0x1F308}

// Config configures a Substituter.
type Config struct {
	BaseURL string // asset directory, no trailing slash needed
	// OnFailure is called once per grapheme that looked like an emoji but
	// could not be resolved to an asset key. Optional.
	OnFailure func()
}

// Substituter replaces emoji with <img> tags. Safe for concurrent use.
type Substituter struct {
	baseURL   string
	onFailure func()
	failures  atomic.Int64
}

func New(cfg Config) *Substituter {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Substituter{baseURL: base, onFailure: cfg.OnFailure}
}

// Substitute returns fragment with every recognised emoji grapheme replaced
// by an image reference. Everything else is copied through unchanged.
// The output contains no raw emoji code points for recognised graphemes, so
// running Substitute again is a no-op.
func (s *Substituter) Substitute(fragment string) string {
	if !hasCandidate(fragment) {
		return fragment
	}

	var sb strings.Builder
	sb.Grow(len(fragment))
	g := uniseg.NewGraphemes(fragment)
	for g.Next() {
		s.replace(&sb, g.Str(), g.Runes())
	}
	return sb.String()
}

func (s *Substituter) replace(sb *strings.Builder, cluster string, runes []rune) {
	if !isEmoji(runes) {
		sb.WriteString(cluster)
		return
	}
	key, ok := Key(runes)
	if !ok {
		s.failures.Add(1)
		if s.onFailure != nil {
			s.onFailure()
		}
		sb.WriteString(cluster)
		return
	}
	fmt.Fprintf(sb, `<img class="emoji" draggable="false" alt="%s" src="%s/%s.png">`,
		escapeRunes(runes), s.baseURL, key)
}

// Failures reports how many graphemes were left untouched because their
// key could not be resolved.
func (s *Substituter) Failures() int64 {
	return s.failures.Load()
}

// Key builds the asset key for a grapheme: lowercase hex code points joined
// with "-", without variation selectors or joiners. Skin tone variants share
// the asset of their first code point.
func Key(runes []rune) (string, bool) {
	var parts []string
	toned := false
	for _, r := range runes {
		if r == utf8.RuneError || !utf8.ValidRune(r) {
			return "", false
		}
		if r == variationSelector || r == zeroWidthJoiner {
			continue
		}
		if r >= 0x1F3FB && r <= 0x1F3FF {
			toned = true
		}
		parts = append(parts, strconv.FormatInt(int64(r), 16))
	}
	if len(parts) == 0 {
		return "", false
	}
	if toned {
		return parts[0], true
	}
	return strings.Join(parts, "-"), true
}

func isEmoji(runes []rune) bool {
	if len(runes) == 0 {
		return false
	}
	if isRainbowFlag(runes) {
		return true
	}
	return inRanges(runes[0])
}

func isRainbowFlag(runes []rune) bool {
	if len(runes) != len(rainbowFlag) {
		return false
	}
	for i, r := range rainbowFlag {
		if runes[i] != r {
			return false
		}
	}
	return true
}

func inRanges(r rune) bool {
	for _, rr := range emojiRanges {
		if r >= rr.lo && r <= rr.hi {
			return true
		}
	}
	return false
}

// hasCandidate skips segmentation for fragments with no code point in range.
func hasCandidate(s string) bool {
	for _, r := range s {
		if inRanges(r) {
			return true
		}
	}
	return false
}

// escapeRunes writes every code point as a numeric character reference.
func escapeRunes(runes []rune) string {
	var sb strings.Builder
	for _, r := range runes {
		fmt.Fprintf(&sb, "&#x%x;", r)
	}
	return sb.String()
}
