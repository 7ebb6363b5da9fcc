// Package twitter is a minimal Twitter API v2 client covering what the bot
// needs: creating tweets (OAuth 1.0a user context), fetching the
// authenticated user for startup verification, and reading single tweets.
// It rate-limits itself client-side and honors 429 reset headers.
package twitter
