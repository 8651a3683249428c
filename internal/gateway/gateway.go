// Package gateway exposes the workflow driver over HTTP and chat bots.
package gateway

import (
	"context"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/rahul/intake/internal/records"
	"github.com/rahul/intake/internal/workflow"
)

// Gateway is one front door. Start blocks until ctx is cancelled or the
// gateway fails; Stop releases its resources.
type Gateway interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Workflow is the driver surface the gateways use.
type Workflow interface {
	Handle(ctx context.Context, req workflow.Request) (*workflow.Result, error)
	Progress(ctx context.Context, userID string) (*workflow.Summary, error)
	Reset(ctx context.Context, userID string) error
}

// ClientDirectory lists the clients a main client may run the intake for.
type ClientDirectory interface {
	Associated(ctx context.Context, mainClientID, reference string) ([]records.Association, error)
}

var strictPolicy = bluemonday.StrictPolicy()

// sanitize strips markup from human input and undoes the entity escaping the
// policy applies, so "&" stays "&".
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}
