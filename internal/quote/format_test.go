package quote

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestFormatBasic(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		q    Quote
		want string
	}{
		{name: "with author", q: Quote{Text: "Stay hungry", Author: "Jobs"}, want: "Stay hungry - Jobs"},
		{name: "no author", q: Quote{Text: "Stay hungry"}, want: "Stay hungry"},
		{name: "empty author keeps text", q: Quote{Text: "x", Author: ""}, want: "x"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.q); got != tt.want {
				t.Fatalf("Format = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatAtLimitUnchanged(t *testing.T) {
	t.Parallel()
	author := "Someone"
	// text + " - " + author exactly 280 runes
	text := strings.Repeat("a", MaxTweetRunes-3-utf8.RuneCountInString(author))
	got := Format(Quote{Text: text, Author: author})
	if utf8.RuneCountInString(got) != MaxTweetRunes {
		t.Fatalf("rune count = %d, want %d", utf8.RuneCountInString(got), MaxTweetRunes)
	}
	if got != text+" - "+author {
		t.Fatal("text at the limit was modified")
	}
}

func TestFormatTruncatesOverLimit(t *testing.T) {
	t.Parallel()
	author := "Author"
	text := strings.Repeat("a", 400)
	got := Format(Quote{Text: text, Author: author})

	budget := 275 - utf8.RuneCountInString(author)
	wantQuote := strings.Repeat("a", budget-3) + "..."
	want := wantQuote + " - " + author
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
	if n := utf8.RuneCountInString(got); n > MaxTweetRunes {
		t.Fatalf("rune count = %d, want <= %d", n, MaxTweetRunes)
	}
}

func TestFormatTruncatesNoAuthor(t *testing.T) {
	t.Parallel()
	text := strings.Repeat("b", 300)
	got := Format(Quote{Text: text})
	want := strings.Repeat("b", 272) + "..."
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
	if n := utf8.RuneCountInString(got); n != 275 {
		t.Fatalf("rune count = %d, want 275", n)
	}
}

func TestFormatCountsRunesNotBytes(t *testing.T) {
	t.Parallel()
	// 280 two-byte runes: 560 bytes but exactly at the rune limit.
	text := strings.Repeat("é", MaxTweetRunes)
	got := Format(Quote{Text: text})
	if got != text {
		t.Fatal("rune-length text at the limit was modified")
	}

	// One over the limit triggers truncation on rune boundaries.
	over := strings.Repeat("é", MaxTweetRunes+1)
	got = Format(Quote{Text: over})
	want := strings.Repeat("é", 272) + "..."
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncation produced invalid UTF-8")
	}
}

func TestFormatLongAuthorPassthrough(t *testing.T) {
	t.Parallel()
	// Budget = 275 - 225 = 50: not above the floor, text passes through over-length.
	author := strings.Repeat("x", 225)
	text := strings.Repeat("a", 100)
	in := Quote{Text: text, Author: author}
	got := Format(in)
	if got != text+" - "+author {
		t.Fatal("over-length text with a pathological author was modified")
	}
	if utf8.RuneCountInString(got) <= MaxTweetRunes {
		t.Fatal("test setup: expected an over-length result")
	}

	// One rune shorter: budget 51, truncation applies again.
	author = strings.Repeat("x", 224)
	got = Format(Quote{Text: text, Author: author})
	want := strings.Repeat("a", 48) + "..." + " - " + author
	if got != want {
		t.Fatalf("Format = %q, want %q", got, want)
	}
}
