package handler

import "strings"

// streamFlushThreshold is the buffered length after which a fragment
// is emitted. Fragments therefore never exceed the threshold by more
// than one trailing sentence.
const streamFlushThreshold = 120

// segmentResponse re-segments a fully generated response into paced
// fragments for the event stream. The text is cut on sentence
// boundaries ('.', '?', '!', newline); sentences accumulate in a
// buffer which is flushed once it grows past the threshold, with any
// remainder flushed last.
func segmentResponse(full string) []string {
	full = strings.TrimSpace(full)
	if full == "" {
		return nil
	}

	var fragments []string
	var buf strings.Builder
	var sentence strings.Builder

	flushSentence := func() {
		if sentence.Len() == 0 {
			return
		}
		buf.WriteString(sentence.String())
		sentence.Reset()
		if buf.Len() > streamFlushThreshold {
			fragments = append(fragments, buf.String())
			buf.Reset()
		}
	}

	for _, r := range full {
		sentence.WriteRune(r)
		switch r {
		case '.', '?', '!', '\n':
			flushSentence()
		}
	}
	flushSentence()
	if buf.Len() > 0 {
		fragments = append(fragments, buf.String())
	}
	return fragments
}
