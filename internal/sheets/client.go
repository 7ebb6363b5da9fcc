package sheets

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	logx "quotebot/pkg/logx"
)

const defaultTimeout = 30 * time.Second

// Config carries what the client needs to reach one spreadsheet.
// CredentialsJSON is the service-account key material from the environment;
// it is held in memory only and never logged.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON []byte
	Timeout         time.Duration

	// Endpoint and HTTPClient override the Google API endpoint and transport.
	// When HTTPClient is set no service-account key is required.
	Endpoint   string
	HTTPClient *http.Client
}

// Client wraps the Sheets API for a single spreadsheet.
type Client struct {
	svc *sheets.Service
	id  string
	log logx.Logger
}

// New builds a Sheets client authenticated with the service-account key.
func New(ctx context.Context, cfg Config, log logx.Logger) (*Client, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		if len(cfg.CredentialsJSON) == 0 {
			return nil, fmt.Errorf("sheets: service account credentials are required")
		}
		jwt, err := google.JWTConfigFromJSON(cfg.CredentialsJSON, sheets.SpreadsheetsScope, sheets.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("sheets: parse service account key: %w", err)
		}
		hc = jwt.Client(context.Background())
		hc.Timeout = cfg.Timeout
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: init service: %w", err)
	}

	return &Client{svc: svc, id: cfg.SpreadsheetID, log: log}, nil
}

// Values returns every populated row of the worksheet as trimmed-shape
// string cells (the API omits trailing empty cells per row).
func (c *Client) Values(ctx context.Context, worksheet string) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.id, quoteTitle(worksheet)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %q: %w", worksheet, err)
	}
	rows := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		row := make([]string, len(r))
		for j, v := range r {
			row[j] = cellString(v)
		}
		rows[i] = row
	}
	return rows, nil
}

// Cell reads a single cell such as "A1". An empty cell reads as "".
func (c *Client) Cell(ctx context.Context, worksheet, ref string) (string, error) {
	rng := rangeRef(worksheet, ref)
	resp, err := c.svc.Spreadsheets.Values.Get(c.id, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("sheets: read %s: %w", rng, err)
	}
	if len(resp.Values) == 0 || len(resp.Values[0]) == 0 {
		return "", nil
	}
	return cellString(resp.Values[0][0]), nil
}

// SetCell writes a single cell with RAW input (no formula parsing).
func (c *Client) SetCell(ctx context.Context, worksheet, ref, value string) error {
	rng := rangeRef(worksheet, ref)
	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err := c.svc.Spreadsheets.Values.Update(c.id, rng, vr).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: write %s: %w", rng, err)
	}
	return nil
}

// AddWorksheet creates a new worksheet with the given grid size.
func (c *Client) AddWorksheet(ctx context.Context, title string, rows, cols int64) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title:          title,
					GridProperties: &sheets.GridProperties{RowCount: rows, ColumnCount: cols},
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.id, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets: add worksheet %q: %w", title, err)
	}
	return nil
}

// WorksheetExists reports whether a worksheet with the title exists.
func (c *Client) WorksheetExists(ctx context.Context, title string) (bool, error) {
	meta, err := c.svc.Spreadsheets.Get(c.id).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("sheets: spreadsheet metadata: %w", err)
	}
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == title {
			return true, nil
		}
	}
	return false, nil
}

// quoteTitle wraps a worksheet title for use in an A1 range. Quoting is
// always valid and keeps titles with spaces or punctuation working.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func rangeRef(worksheet, ref string) string {
	return quoteTitle(worksheet) + "!" + ref
}

func cellString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
