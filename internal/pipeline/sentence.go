package pipeline

import "strings"

// sentenceBuffer accumulates streamed tokens and splits at sentence boundaries.
type sentenceBuffer struct {
	buf strings.Builder
}

// Add appends a token and returns any complete sentence ready for TTS.
// Returns empty string if no sentence boundary detected yet.
func (s *sentenceBuffer) Add(token string) string {
	s.buf.WriteString(token)
	text := s.buf.String()
	complete, remainder := splitAtSentence(text)
	if complete == "" {
		return ""
	}
	s.buf.Reset()
	s.buf.WriteString(remainder)
	return complete
}

// Flush returns any remaining text in the buffer.
func (s *sentenceBuffer) Flush() string {
	text := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	return text
}

// splitAtSentence cuts text after the last sentence ender (.!?) that is
// followed by whitespace. Returns (completeSentences, remainder), or
// ("", text) when no boundary exists yet.
func splitAtSentence(text string) (string, string) {
	for i := len(text) - 2; i >= 0; i-- {
		if !isSentenceEnd(text[i]) || !isWordBoundary(text[i+1]) {
			continue
		}
		return strings.TrimSpace(text[:i+1]), text[i+1:]
	}
	return "", text
}

func isSentenceEnd(ch byte) bool {
	return ch == '.' || ch == '!' || ch == '?'
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t'
}
