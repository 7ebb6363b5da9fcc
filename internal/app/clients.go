package app

import (
	"context"
	"strings"

	"quotebot/internal/config"
	"quotebot/internal/quote"
	"quotebot/internal/sheets"
	"quotebot/internal/twitter"
	logx "quotebot/pkg/logx"
)

// mapTwitterConfig merges operational knobs from the config file with
// credentials from the environment. Credential values stay in memory only.
func mapTwitterConfig(cfg *Config, sec *config.Secrets) (twitter.Config, error) {
	out := twitter.Config{
		ConsumerKey:    sec.TwitterConsumerKey,
		ConsumerSecret: sec.TwitterConsumerSecret,
		AccessToken:    sec.TwitterAccessToken,
		AccessSecret:   sec.TwitterAccessTokenSecret,
		BearerToken:    sec.TwitterBearerToken,
	}
	if cfg == nil {
		return out, nil
	}
	out.BaseURL = strings.TrimSpace(cfg.Twitter.BaseURL)
	timeout, err := parseDurationField("twitter.timeout", cfg.Twitter.Timeout)
	if err != nil {
		return out, err
	}
	out.Timeout = timeout
	return out, nil
}

// buildQuoteSource wires the spreadsheet client and the sequential source.
// The spreadsheet id, worksheet name and service account come from the
// environment; only operational knobs live in the config file.
func buildQuoteSource(ctx context.Context, cfg *Config, sec *config.Secrets, log logx.Logger) (quote.Source, error) {
	timeout, err := parseDurationField("sheets.timeout", cfg.Sheets.Timeout)
	if err != nil {
		return nil, err
	}
	client, err := sheets.New(ctx, sheets.Config{
		SpreadsheetID:   sec.SheetsID,
		CredentialsJSON: []byte(sec.ServiceAccountJSON),
		Timeout:         timeout,
	}, log.With(logx.String("comp", "sheets")))
	if err != nil {
		return nil, err
	}
	return sheets.NewSource(client, sheets.SourceConfig{
		Worksheet:         sec.WorksheetName,
		TrackingWorksheet: cfg.Sheets.TrackingWorksheet,
		StartRow:          cfg.Sheets.StartRow,
	}, log.With(logx.String("comp", "sheets"))), nil
}
