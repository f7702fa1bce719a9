// Package ingest consumes raw page payloads, normalizes them, and persists the
// resulting records to the routed table.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listings-pipeline/internal/crawler"
	"github.com/JakeFAU/olx-listings-pipeline/internal/listing"
	"github.com/JakeFAU/olx-listings-pipeline/internal/metrics"
	"github.com/JakeFAU/olx-listings-pipeline/internal/pipeline"
	"github.com/JakeFAU/olx-listings-pipeline/internal/router"
)

var tracer = otel.Tracer("github.com/JakeFAU/olx-listings-pipeline/internal/ingest")

// Transformer turns page content into validated records.
type Transformer interface {
	Transform(content []byte) (pipeline.Report, error)
}

// Persister writes records for a crawl target.
type Persister interface {
	Persist(ctx context.Context, sourceURL string, records []listing.PropertyRecord) (router.Result, error)
}

// Exporter writes a batch artifact and returns its URI.
type Exporter interface {
	Export(ctx context.Context, table string, records []listing.PropertyRecord) (string, error)
}

// Recorder observes ingest outcomes.
type Recorder interface {
	ObserveMessage(result string, duration time.Duration)
	ObservePersisted(table string, n int)
	ObserveSkipped(field, reason string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMessage(string, time.Duration) {}
func (nopRecorder) ObservePersisted(string, int)         {}
func (nopRecorder) ObserveSkipped(string, string)        {}

// Options holds the optional collaborators of a Service.
type Options struct {
	// Exporter, when set, receives every persisted batch.
	Exporter Exporter
	// Archive, when set, stores raw payload content keyed by its hash.
	Archive crawler.BlobStore
	Hasher  crawler.Hasher
	// ArchivePrefix is prepended to archived object paths.
	ArchivePrefix string
	Recorder      Recorder
	Clock         crawler.Clock
}

// Service handles payload messages one at a time.
type Service struct {
	transformer Transformer
	persister   Persister
	opts        Options
	logger      *zap.Logger
}

// New creates a Service.
func New(transformer Transformer, persister Persister, opts Options, logger *zap.Logger) (*Service, error) {
	if transformer == nil || persister == nil {
		return nil, errors.New("ingest: transformer and persister are required")
	}
	if opts.Archive != nil && opts.Hasher == nil {
		return nil, errors.New("ingest: archive requires a hasher")
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{transformer: transformer, persister: persister, opts: opts, logger: logger}, nil
}

// Handle processes one message to completion. It satisfies queue.Handler.
func (s *Service) Handle(ctx context.Context, data []byte) {
	ctx, span := tracer.Start(ctx, "ingest.payload", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	start := s.now()
	result, err := s.Process(ctx, data)
	s.opts.Recorder.ObserveMessage(result, s.now().Sub(start))
	span.SetAttributes(attribute.String("ingest.result", result))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("payload dropped",
			zap.String("result", result),
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.Error(err),
		)
	}
}

// Process decodes, transforms, and persists one message body, returning the
// metrics result label along with any error.
func (s *Service) Process(ctx context.Context, data []byte) (string, error) {
	var payload listing.RawPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return metrics.ResultDecodeError, fmt.Errorf("decode payload: %w", err)
	}
	logger := s.logger.With(zap.String("url", payload.URL), zap.Int("page", payload.Page))
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
	}

	if _, err := router.Route(payload.URL); err != nil {
		return metrics.ResultUnroutable, err
	}

	s.archive(ctx, logger, payload)

	report, err := s.transformer.Transform([]byte(payload.Content))
	if err != nil {
		return metrics.ResultMalformed, err
	}
	for _, failure := range report.Failures {
		s.opts.Recorder.ObserveSkipped(failure.Field, string(failure.Reason))
		logger.Debug("row skipped", zap.Error(failure))
	}

	res, err := s.persister.Persist(ctx, payload.URL, report.Records)
	if err != nil {
		return metrics.ResultPersistFail, err
	}
	s.opts.Recorder.ObservePersisted(res.Physical, res.Written)
	logger.Info("payload ingested",
		zap.String("table", res.Physical),
		zap.Int("rows", report.Rows),
		zap.Int("written", res.Written),
		zap.Int("skipped", report.Skipped()),
	)

	if s.opts.Exporter != nil && len(report.Records) > 0 {
		uri, err := s.opts.Exporter.Export(ctx, res.Physical, report.Records)
		if err != nil {
			logger.Warn("batch export failed", zap.Error(err))
		} else {
			logger.Debug("batch exported", zap.String("uri", uri))
		}
	}
	return metrics.ResultOK, nil
}

// archive keeps the raw content. Failures never block ingestion.
func (s *Service) archive(ctx context.Context, logger *zap.Logger, payload listing.RawPayload) {
	if s.opts.Archive == nil || payload.Content == "" {
		return
	}
	content := []byte(payload.Content)
	sum, err := s.opts.Hasher.Hash(content)
	if err != nil {
		logger.Warn("hash payload", zap.Error(err))
		return
	}
	key := path.Join(strings.Trim(s.opts.ArchivePrefix, "/"), "raw", sum+".json")
	uri, err := s.opts.Archive.PutObject(ctx, key, "application/json", content)
	if err != nil {
		logger.Warn("archive payload", zap.String("path", key), zap.Error(err))
		return
	}
	logger.Debug("payload archived", zap.String("uri", uri))
}

func (s *Service) now() time.Time {
	if s.opts.Clock != nil {
		return s.opts.Clock.Now()
	}
	return time.Now()
}
