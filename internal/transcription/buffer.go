package transcription

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Buffer accumulates recognised text. Finalized text is append-only between
// resets; interim text is replaced wholesale by every provisional result.
// Buffer is not safe for concurrent use; the panel guards it.
type Buffer struct {
	finalized strings.Builder
	interim   string
}

// AppendFinal appends a final segment. A single space separates it from the
// next segment unless it already ends in whitespace. Blank segments are
// ignored. The interim text is cleared, since the final supersedes it.
func (b *Buffer) AppendFinal(text string) {
	b.interim = ""
	if strings.TrimSpace(text) == "" {
		return
	}
	// Text rewritten by Replace may end without a separator.
	if cur := b.finalized.String(); cur != "" {
		last, _ := utf8.DecodeLastRuneInString(cur)
		first, _ := utf8.DecodeRuneInString(text)
		if !unicode.IsSpace(last) && !unicode.IsSpace(first) {
			b.finalized.WriteByte(' ')
		}
	}
	b.finalized.WriteString(text)
	if r, _ := utf8.DecodeLastRuneInString(text); !unicode.IsSpace(r) {
		b.finalized.WriteByte(' ')
	}
}

// SetInterim replaces the interim text.
func (b *Buffer) SetInterim(text string) { b.interim = text }

// ClearInterim drops the interim text.
func (b *Buffer) ClearInterim() { b.interim = "" }

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.finalized.Reset()
	b.interim = ""
}

// Finalized returns the finalized text.
func (b *Buffer) Finalized() string { return b.finalized.String() }

// Interim returns the interim text.
func (b *Buffer) Interim() string { return b.interim }

// Replace overwrites the finalized text (used by Format).
func (b *Buffer) Replace(text string) {
	b.finalized.Reset()
	b.finalized.WriteString(text)
}

// WordCount is the number of whitespace-delimited non-empty tokens in s.
func WordCount(s string) int { return len(strings.Fields(s)) }

// CharCount is the number of characters (runes) in s.
func CharCount(s string) int { return utf8.RuneCountInString(s) }

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+`)
	sentenceEnd   = regexp.MustCompile(`([.!?]+)\s*`)
	spaceRun      = regexp.MustCompile(`\s+`)
)

// Stats summarises a transcript.
type Stats struct {
	Words            int `json:"words"`
	Sentences        int `json:"sentences"`
	Characters       int `json:"characters"`
	AvgSentenceWords int `json:"avg_sentence_words"`
	ReadingMinutes   int `json:"reading_minutes"`
}

// readingWordsPerMinute is the pace used for the reading time estimate.
const readingWordsPerMinute = 200

// ComputeStats derives Stats from s.
func ComputeStats(s string) Stats {
	st := Stats{Words: WordCount(s), Characters: CharCount(s)}
	for _, part := range sentenceSplit.Split(s, -1) {
		if strings.TrimSpace(part) != "" {
			st.Sentences++
		}
	}
	if st.Sentences > 0 {
		st.AvgSentenceWords = int(math.Round(float64(st.Words) / float64(st.Sentences)))
	}
	st.ReadingMinutes = int(math.Ceil(float64(st.Words) / readingWordsPerMinute))
	return st
}

// FormatText collapses whitespace and starts a new paragraph after every
// sentence terminator.
func FormatText(s string) string {
	s = spaceRun.ReplaceAllString(s, " ")
	s = sentenceEnd.ReplaceAllString(s, "$1\n\n")
	return strings.TrimSpace(s)
}
