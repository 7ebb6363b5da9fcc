package config

import (
	"fmt"
	"os"
	"strings"
)

// Environment variable names the bot reads. Names are part of the external
// contract and must match the deployment's secret store bit-exactly.
const (
	EnvTwitterBearerToken       = "TWITTER_BEARER_TOKEN"
	EnvTwitterConsumerKey       = "TWITTER_CONSUMER_KEY"
	EnvTwitterConsumerSecret    = "TWITTER_CONSUMER_SECRET"
	EnvTwitterAccessToken       = "TWITTER_ACCESS_TOKEN"
	EnvTwitterAccessTokenSecret = "TWITTER_ACCESS_TOKEN_SECRET"
	EnvSheetsID                 = "GOOGLE_SHEETS_ID"
	EnvWorksheetName            = "GOOGLE_WORKSHEET_NAME"
	EnvServiceAccountJSON       = "GOOGLE_SERVICE_ACCOUNT_JSON"
)

// DefaultWorksheetName applies when GOOGLE_WORKSHEET_NAME is unset.
const DefaultWorksheetName = "Sheet1"

// EnvNames returns all environment variables the bot consumes, in a stable order.
func EnvNames() []string {
	return []string{
		EnvTwitterBearerToken,
		EnvTwitterConsumerKey,
		EnvTwitterConsumerSecret,
		EnvTwitterAccessToken,
		EnvTwitterAccessTokenSecret,
		EnvSheetsID,
		EnvWorksheetName,
		EnvServiceAccountJSON,
	}
}

// Secrets carries credential material injected per run through the
// environment. Values never come from config files and are never persisted
// or logged by this process.
type Secrets struct {
	TwitterBearerToken       string
	TwitterConsumerKey       string
	TwitterConsumerSecret    string
	TwitterAccessToken       string
	TwitterAccessTokenSecret string

	SheetsID           string
	WorksheetName      string
	ServiceAccountJSON string
}

// LookupFunc mirrors os.LookupEnv so tests can inject environments.
type LookupFunc func(key string) (value string, ok bool)

// LoadSecrets reads the credential bundle from the environment.
//
// All variables except GOOGLE_WORKSHEET_NAME are required; the error names
// every missing one. Values are whitespace-trimmed; empty counts as unset.
// A nil lookup means os.LookupEnv.
func LoadSecrets(lookup LookupFunc) (*Secrets, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) string {
		v, ok := lookup(key)
		if !ok {
			return ""
		}
		return strings.TrimSpace(v)
	}

	s := &Secrets{
		TwitterBearerToken:       get(EnvTwitterBearerToken),
		TwitterConsumerKey:       get(EnvTwitterConsumerKey),
		TwitterConsumerSecret:    get(EnvTwitterConsumerSecret),
		TwitterAccessToken:       get(EnvTwitterAccessToken),
		TwitterAccessTokenSecret: get(EnvTwitterAccessTokenSecret),
		SheetsID:                 get(EnvSheetsID),
		WorksheetName:            get(EnvWorksheetName),
		ServiceAccountJSON:       get(EnvServiceAccountJSON),
	}
	if s.WorksheetName == "" {
		s.WorksheetName = DefaultWorksheetName
	}

	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{EnvTwitterBearerToken, s.TwitterBearerToken},
		{EnvTwitterConsumerKey, s.TwitterConsumerKey},
		{EnvTwitterConsumerSecret, s.TwitterConsumerSecret},
		{EnvTwitterAccessToken, s.TwitterAccessToken},
		{EnvTwitterAccessTokenSecret, s.TwitterAccessTokenSecret},
		{EnvSheetsID, s.SheetsID},
		{EnvServiceAccountJSON, s.ServiceAccountJSON},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return s, nil
}

// String returns a redacted summary safe for logs.
func (s *Secrets) String() string {
	if s == nil {
		return "secrets(nil)"
	}
	set := func(v string) string {
		if v == "" {
			return "unset"
		}
		return "set"
	}
	return fmt.Sprintf("secrets(twitter=%s sheets_id=%s worksheet=%q service_account=%s)",
		set(s.TwitterConsumerKey), set(s.SheetsID), s.WorksheetName, set(s.ServiceAccountJSON))
}
