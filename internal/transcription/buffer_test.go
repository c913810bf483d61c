package transcription

import (
	"testing"
	"time"
)

func TestBuffer_AppendFinal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		finals []string
		want   string
	}{
		{"trailing spaces kept", []string{"hello ", "world "}, "hello world "},
		{"separator added", []string{"hello", "world"}, "hello world "},
		{"newline counts as separator", []string{"line\n", "next"}, "line\nnext "},
		{"blank finals skipped", []string{"a", "  ", "", "b"}, "a b "},
		{"leading whitespace kept", []string{" hi", "there"}, " hi there "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var b Buffer
			for _, f := range tt.finals {
				b.AppendFinal(f)
			}
			if got := b.Finalized(); got != tt.want {
				t.Errorf("Finalized() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuffer_InterimIsReplaced(t *testing.T) {
	t.Parallel()

	var b Buffer
	b.SetInterim("hel")
	b.SetInterim("hello wor")
	if got := b.Interim(); got != "hello wor" {
		t.Errorf("Interim() = %q", got)
	}
	b.AppendFinal("hello world")
	if b.Interim() != "" {
		t.Error("final did not clear interim")
	}
	b.SetInterim("again")
	b.Reset()
	if b.Finalized() != "" || b.Interim() != "" {
		t.Error("Reset left text behind")
	}
}

func TestBuffer_AppendAfterReplace(t *testing.T) {
	t.Parallel()

	var b Buffer
	b.AppendFinal("one. two")
	b.Replace(FormatText(b.Finalized()))
	b.AppendFinal("three")
	if got, want := b.Finalized(), "one.\n\ntwo three "; got != want {
		t.Errorf("Finalized() = %q, want %q", got, want)
	}
}

func TestWordCount(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		"":                       0,
		"   ":                    0,
		"one":                    1,
		"hello world ":           2,
		"  spaced\tout\n\nwords": 3,
	}
	for in, want := range tests {
		if got := WordCount(in); got != want {
			t.Errorf("WordCount(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestComputeStats(t *testing.T) {
	t.Parallel()

	st := ComputeStats("Hi there. How are you? Fine!")
	want := Stats{Words: 6, Sentences: 3, Characters: 28, AvgSentenceWords: 2, ReadingMinutes: 1}
	if st != want {
		t.Errorf("ComputeStats = %+v, want %+v", st, want)
	}
	if got := ComputeStats(""); got != (Stats{}) {
		t.Errorf("ComputeStats(\"\") = %+v, want zero", got)
	}
}

func TestFormatText(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"hello.  world!  ok":   "hello.\n\nworld!\n\nok",
		"no terminator   here": "no terminator here",
		"wait... what?!\tyes.": "wait...\n\nwhat?!\n\nyes.",
		"   ":                  "",
	}
	for in, want := range tests {
		if got := FormatText(in); got != want {
			t.Errorf("FormatText(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()

	tests := map[time.Duration]string{
		0:                                      "0:00",
		9 * time.Second:                        "0:09",
		65 * time.Second:                       "1:05",
		61*time.Minute + 1500*time.Millisecond: "61:01",
		-time.Second:                           "0:00",
	}
	for in, want := range tests {
		if got := FormatElapsed(in); got != want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", in, got, want)
		}
	}
}
