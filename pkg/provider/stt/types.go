package stt

// Transcript represents a speech-to-text result from an STT provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcript of the best alternative.
	Text string

	// IsFinal indicates whether this is a final (committed) or partial (interim) transcript.
	IsFinal bool

	// Confidence is the confidence score (0.0–1.0) of the best alternative. Zero
	// means the provider did not report one.
	Confidence float64

	// Alternatives lists the recognition hypotheses, best first. Providers that
	// report a single hypothesis leave it nil.
	Alternatives []Alternative
}

// Alternative is one recognition hypothesis for a segment.
type Alternative struct {
	Text       string
	Confidence float64
}

// Best returns the preferred text of t, falling back to the first alternative
// when Text is empty.
func (t Transcript) Best() string {
	if t.Text != "" || len(t.Alternatives) == 0 {
		return t.Text
	}
	return t.Alternatives[0].Text
}
