package server

import (
	"github.com/lumenchat/chatcore/internal/attachment"
	"github.com/lumenchat/chatcore/internal/credential"
	"github.com/lumenchat/chatcore/internal/events"
	"github.com/lumenchat/chatcore/internal/history"
	"github.com/lumenchat/chatcore/internal/logger"
	"github.com/lumenchat/chatcore/internal/metrics"
	"github.com/lumenchat/chatcore/internal/pipeline"
	"github.com/lumenchat/chatcore/internal/ratelimit"
	"github.com/lumenchat/chatcore/internal/upstream"
	"github.com/lumenchat/chatcore/internal/vectorindex"
)

// Dependencies holds the process-wide collaborators shared by every
// connection. Each connection gets its own Connector and Pipeline, since
// the connector is bound to one event sink, but every other collaborator
// here is a long-lived singleton.
type Dependencies struct {
	Limiter        *ratelimit.Limiter
	Attachments    *attachment.Processor
	Normalizer     *history.Normalizer
	Credentials    *credential.Cache
	Indexer        *vectorindex.Indexer
	ToolHandlers   upstream.ToolHandlers
	SystemPreamble []string
	Metrics        *metrics.Metrics
	Log            *logger.Logger
}

// pipelineFor constructs a Pipeline bound to sink, for the lifetime of one
// connection.
func (d *Dependencies) pipelineFor(sink events.Sink) *pipeline.Pipeline {
	connector := upstream.NewConnector(d.Credentials, sink, d.Log)
	return pipeline.New(
		d.Limiter,
		d.Attachments,
		d.Normalizer,
		connector,
		d.Indexer,
		d.ToolHandlers,
		d.SystemPreamble,
		d.Log,
	)
}
