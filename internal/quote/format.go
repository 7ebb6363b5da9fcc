package quote

import "unicode/utf8"

// MaxTweetRunes is the post length limit, counted in runes.
const MaxTweetRunes = 280

// Format renders a quote as post text: the quote alone, or "text - author"
// when an author is present.
//
// If the result exceeds MaxTweetRunes, the quote part is shortened to fit a
// budget of 275 runes minus the author length, with a trailing "...". A
// budget of 50 runes or less (pathologically long author) is not worth
// posting a fragment for, so the over-length text is returned unchanged and
// the API rejects it at post time.
func Format(q Quote) string {
	text := q.Text
	if q.Author != "" {
		text = q.Text + " - " + q.Author
	}
	if utf8.RuneCountInString(text) <= MaxTweetRunes {
		return text
	}

	budget := 275 - utf8.RuneCountInString(q.Author)
	if budget <= 50 {
		return text
	}

	short := truncateRunes(q.Text, budget-3) + "..."
	if q.Author != "" {
		return short + " - " + q.Author
	}
	return short
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
