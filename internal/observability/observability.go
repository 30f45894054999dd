package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"golang.org/x/term"
)

// Log output formats for the console handler.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatAuto = "auto" // text on a terminal, json otherwise
)

// Log exporters routing records through the OpenTelemetry pipeline.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// loggerProvider holds the active OTel pipeline for flushing on shutdown.
var loggerProvider *sdklog.LoggerProvider

// Instrument installs the process-wide default slog logger.
//
// With ExporterNone the records go to a plain console handler in the given
// format. Any other exporter routes records through an OpenTelemetry log
// pipeline (severity-filtered via minsev) to the selected backend;
// OTLP endpoints come from the standard OTEL_EXPORTER_OTLP_* environment.
func Instrument(level slog.Level, format, exporter string) error {
	if exporter == "" || exporter == ExporterNone {
		slog.SetDefault(slog.New(consoleHandler(level, format)))
		return nil
	}

	processor, err := newProcessor(exporter)
	if err != nil {
		return err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	)
	loggerProvider = provider

	slog.SetDefault(otelslog.NewLogger("jira-bridge", otelslog.WithLoggerProvider(provider)))
	return nil
}

// Shutdown flushes and stops the OTel pipeline, if one was installed.
func Shutdown(ctx context.Context) error {
	if loggerProvider == nil {
		return nil
	}
	return loggerProvider.Shutdown(ctx)
}

// consoleHandler builds a text or JSON handler for stderr, resolving
// FormatAuto by terminal detection.
func consoleHandler(level slog.Level, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	if format == FormatAuto || format == "" {
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = FormatText
		} else {
			format = FormatJSON
		}
	}

	if format == FormatJSON {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

// newProcessor builds the sdklog processor for the selected exporter.
// OTLP exporters batch; stdout writes synchronously.
func newProcessor(exporter string) (sdklog.Processor, error) {
	switch exporter {
	case ExporterStdout:
		exp, err := stdoutlog.New()
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		return sdklog.NewSimpleProcessor(exp), nil
	case ExporterOTLPHTTP:
		exp, err := otlploghttp.New(context.Background())
		if err != nil {
			return nil, fmt.Errorf("creating OTLP/HTTP log exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exp), nil
	case ExporterOTLPGRPC:
		exp, err := otlploggrpc.New(context.Background())
		if err != nil {
			return nil, fmt.Errorf("creating OTLP/gRPC log exporter: %w", err)
		}
		return sdklog.NewBatchProcessor(exp), nil
	default:
		return nil, fmt.Errorf("unsupported log exporter: %s", exporter)
	}
}

// severity maps an slog level to the minimum OTel severity to forward.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
