package tts

import "strings"

// ChunkOptions control how chapter text is packed into TTS requests.
// Token counts are estimated from character length.
type ChunkOptions struct {
	// Limit is the token budget per chunk.
	Limit int
	// Floor is the minimum estimated size before a chunk may be flushed
	// early; it also controls merging of a short trailing chunk.
	Floor int
	// CharsPerToken converts characters to estimated tokens.
	CharsPerToken float64
}

// ChunkText splits chapter text into request-sized chunks on sentence
// boundaries. Sentences that exceed the budget on their own are split at
// clause boundaries, then words, then hard-cut. A short final chunk is
// merged into the previous one so no stub utterance reaches the model.
func ChunkText(text string, opts ChunkOptions) []string {
	sentences := splitIntoSentences(text)

	var (
		chunks        []string
		current       []string
		currentTokens float64
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
			current = nil
			currentTokens = 0
		}
	}

	for _, sentence := range sentences {
		tokenEst := float64(len(sentence)) / opts.CharsPerToken
		if tokenEst > float64(opts.Limit) {
			flush()
			chunks = append(chunks, splitLongSentence(sentence, opts.Limit, opts.CharsPerToken)...)
			continue
		}

		if currentTokens+tokenEst > float64(opts.Limit) && currentTokens >= float64(opts.Floor) {
			flush()
		}

		current = append(current, sentence)
		currentTokens += tokenEst
	}

	if len(current) > 0 {
		tail := strings.Join(current, " ")
		tailTokens := float64(len(tail)) / opts.CharsPerToken
		if len(chunks) > 0 && tailTokens < float64(opts.Floor) {
			chunks[len(chunks)-1] += " " + tail
		} else {
			chunks = append(chunks, tail)
		}
	}

	return chunks
}

// splitLongSentence cuts an oversized sentence into budget-sized pieces,
// preferring semicolon then comma boundaries, then whitespace, then a
// hard cut. Pieces target 90% of the budget to leave headroom for the
// estimate being off.
func splitLongSentence(sentence string, limit int, charsPerToken float64) []string {
	targetChars := int(float64(limit) * charsPerToken * 0.9)
	var parts []string

	for float64(len(sentence))/charsPerToken > float64(limit) {
		splitZone := sentence[:targetChars]
		splitAt := -1

		for _, delim := range []string{"; ", ", "} {
			if idx := strings.LastIndex(splitZone, delim); idx > 0 {
				splitAt = idx + len(delim)
				break
			}
		}

		if splitAt < 0 {
			if idx := strings.LastIndex(splitZone, " "); idx > 0 {
				splitAt = idx
			} else {
				splitAt = targetChars
			}
		}

		parts = append(parts, strings.TrimSpace(sentence[:splitAt]))
		sentence = strings.TrimSpace(sentence[splitAt:])
	}

	if sentence != "" {
		parts = append(parts, sentence)
	}

	return parts
}
