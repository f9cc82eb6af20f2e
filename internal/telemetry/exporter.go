package telemetry

import (
	"errors"
	"fmt"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"
)

// NewCloudTraceExporter returns an exporter that ships spans to Google Cloud
// Trace in projectID. Client options are passed to the trace API client.
func NewCloudTraceExporter(projectID string, opts ...option.ClientOption) (sdktrace.SpanExporter, error) {
	if projectID == "" {
		return nil, errors.New("cloud trace exporter requires a project id")
	}
	exp, err := texporter.New(
		texporter.WithProjectID(projectID),
		texporter.WithTraceClientOptions(opts),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create google trace exporter: %w", err)
	}
	return exp, nil
}
