package tts

import "testing"

func TestSplitIntoSentences_Basic(t *testing.T) {
	text := "First sentence. Second sentence! Third sentence? Fourth."
	got := splitIntoSentences(text)
	if len(got) != 4 {
		t.Fatalf("expected 4 sentences, got %d: %#v", len(got), got)
	}
	if got[1] != "Second sentence!" {
		t.Fatalf("unexpected second sentence: %q", got[1])
	}
}

func TestSplitIntoSentences_AbbreviationsAndDecimals(t *testing.T) {
	text := "Mr. Smith measured 3.14 meters. Dr. Jones agreed."
	got := splitIntoSentences(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %#v", len(got), got)
	}
}

func TestSplitIntoSentences_Initials(t *testing.T) {
	text := "J. R. R. Tolkien wrote it. It was long."
	got := splitIntoSentences(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %#v", len(got), got)
	}
}

func TestSplitIntoSentences_Ellipsis(t *testing.T) {
	text := "Wait... really? Yes."
	got := splitIntoSentences(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %#v", len(got), got)
	}
	if got[0] != "Wait... really?" {
		t.Fatalf("unexpected first sentence: %q", got[0])
	}
}

func TestSplitIntoSentences_ClosingQuote(t *testing.T) {
	text := `"Stop." He did not stop.`
	got := splitIntoSentences(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %#v", len(got), got)
	}
	if got[0] != `"Stop."` {
		t.Fatalf("unexpected first sentence: %q", got[0])
	}
}

func TestSplitIntoSentences_LowercaseContinuation(t *testing.T) {
	// A period followed by a lowercase word is not a boundary.
	text := "The site was example. com according to the note. Fine."
	got := splitIntoSentences(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %#v", len(got), got)
	}
}

func TestSplitIntoSentences_NormalizesWhitespace(t *testing.T) {
	text := "One\r\ntwo\tthree.   Next   sentence."
	got := splitIntoSentences(text)
	if len(got) != 2 {
		t.Fatalf("expected 2 sentences, got %d: %#v", len(got), got)
	}
	if got[0] != "One two three." {
		t.Fatalf("whitespace not collapsed: %q", got[0])
	}
}

func TestSplitIntoSentences_Empty(t *testing.T) {
	got := splitIntoSentences("   \n\t ")
	if len(got) != 0 {
		t.Fatalf("expected no segments, got %#v", got)
	}
}
