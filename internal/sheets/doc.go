// Package sheets reads quotes from a Google spreadsheet and tracks the
// posting position in a pointer cell, so restarts and redeploys continue
// where the previous run left off.
package sheets
