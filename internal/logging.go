package internal

import (
	"context"
	"os"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"
)

// base is the process-wide logger. Background goroutines and request
// handlers alike derive from it via Log(ctx) so every line carries a
// request id even outside of an HTTP request.
var base = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	ReportCaller:    false,
})

// SetLogLevel adjusts the process-wide logger's verbosity. Called once
// at startup from the CLI's logging flags.
func SetLogLevel(verbose bool) {
	if verbose {
		base.SetLevel(log.DebugLevel)
		return
	}
	base.SetLevel(log.InfoLevel)
}

// Log returns a logger tagged with the request id carried in ctx, if
// any. Background jobs that fabricate a context with a synthetic
// request id (e.g. "consolidate-42") get the same tagging as inbound
// requests.
func Log(ctx context.Context) *log.Logger {
	reqID, _ := ctx.Value(middleware.RequestIDKey).(string)
	if reqID == "" {
		return base
	}
	return base.With("req_id", reqID)
}
