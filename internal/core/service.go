// Package core exposes the sequela service: request documents, activation,
// backfill, version creation, and version export, each run in one store
// transaction with logging, metrics, and tracing around it.
package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"sequelacore/internal/activation"
	"sequelacore/internal/backfill"
	"sequelacore/internal/blob"
	"sequelacore/internal/hierarchy"
	"sequelacore/internal/infra/persistence/memory"
	"sequelacore/internal/request"
	"sequelacore/pkg/domain"
)

// DefaultRoundID is used when no round is configured.
const DefaultRoundID = 5

// ErrNoBlobStore is returned by export operations when the service has no
// blob store.
var ErrNoBlobStore = errors.New("no blob store configured")

// Service runs sequela operations against a persistent store.
type Service struct {
	store     domain.PersistentStore
	resolver  *request.Resolver
	blobs     blob.Store
	logger    Logger
	metrics   MetricsRecorder
	tracer    Tracer
	now       func() time.Time
	round     int
	newID     func() string
	exportDir string
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the operation metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithBlobStore enables version export.
func WithBlobStore(b blob.Store) Option {
	return func(s *Service) { s.blobs = b }
}

// WithDefaultRound sets the round used when activation or a version insert
// names none.
func WithDefaultRound(round int) Option {
	return func(s *Service) {
		if round > 0 {
			s.round = round
		}
	}
}

// WithClock overrides the clock used for durations and export timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the request and export id source.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewService constructs a service over store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:     store,
		logger:    noopLogger{},
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		now:       func() time.Time { return time.Now().UTC() },
		round:     DefaultRoundID,
		newID:     func() string { return uuid.NewString() },
		exportDir: "versions",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = request.NewResolver(request.DefaultRegistry(request.Options{DefaultRoundID: s.round}))
	return s
}

// NewInMemoryService builds a service over a fresh memory store using the
// default rules.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(NewDefaultRulesEngine()), opts...)
}

// Store returns the underlying store.
func (s *Service) Store() domain.PersistentStore { return s.store }

// DefaultRound returns the configured default round.
func (s *Service) DefaultRound() int { return s.round }

// run executes fn in one transaction and reports it to the logger, metrics,
// and tracer under op.
func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Transaction) error) (domain.Result, error) {
	requestID := s.newID()
	ctx, span := s.tracer.Start(ctx, op)
	start := s.now()
	res, err := s.store.RunInTransaction(ctx, fn)
	elapsed := s.now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	span.End(err)

	for _, v := range res.Violations {
		s.logger.Warn("rule violation", "request_id", requestID, "operation", op,
			"rule", v.Rule, "severity", string(v.Severity), "entity", v.EntityID, "message", v.Message)
	}
	if err != nil {
		s.logger.Error("operation failed", "request_id", requestID, "operation", op, "error", err)
		return res, err
	}
	s.logger.Info("operation completed", "request_id", requestID, "operation", op, "duration", elapsed)
	return res, nil
}

// observe wraps a read-only or non-transactional operation.
func (s *Service) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	requestID := s.newID()
	ctx, span := s.tracer.Start(ctx, op)
	start := s.now()
	err := fn(ctx)
	elapsed := s.now().Sub(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	span.End(err)
	if err != nil {
		s.logger.Error("operation failed", "request_id", requestID, "operation", op, "error", err)
		return err
	}
	s.logger.Info("operation completed", "request_id", requestID, "operation", op, "duration", elapsed)
	return nil
}

// ProcessRequest resolves a request document in one transaction. Any error
// rolls back every write of the document.
func (s *Service) ProcessRequest(ctx context.Context, doc *request.Object) (request.Report, domain.Result, error) {
	var report request.Report
	res, err := s.run(ctx, "process_request", func(tx domain.Transaction) error {
		var err error
		report, err = s.resolver.Process(tx, doc)
		return err
	})
	if err != nil {
		return request.Report{}, res, err
	}
	if rows, ok := s.metrics.(RowRecorder); ok {
		counts := make(map[[2]string]int)
		for _, op := range report.Operations {
			counts[[2]string{op.Table, string(op.Action)}]++
		}
		for k, n := range counts {
			rows.Rows(k[0], k[1], n)
		}
	}
	return report, res, nil
}

// ApplyDocument parses a JSON or YAML request document and processes it.
func (s *Service) ApplyDocument(ctx context.Context, data []byte) (request.Report, domain.Result, error) {
	doc, err := request.Parse(data)
	if err != nil {
		return request.Report{}, domain.Result{}, err
	}
	return s.ProcessRequest(ctx, doc)
}

// ValidateVersion checks that every sequela with rei rows in the version has
// a hierarchy row there.
func (s *Service) ValidateVersion(ctx context.Context, versionID int) error {
	return s.observe(ctx, "validate_version", func(ctx context.Context) error {
		return s.store.View(ctx, func(v domain.TransactionView) error {
			return activation.Validate(v, versionID)
		})
	})
}

// ActivateVersion points the (set, round) activation record at versionID. A
// zero round uses the default round.
func (s *Service) ActivateVersion(ctx context.Context, versionID, roundID int, validate bool) (domain.ActiveVersion, domain.Result, error) {
	if roundID == 0 {
		roundID = s.round
	}
	var active domain.ActiveVersion
	res, err := s.run(ctx, "activate_version", func(tx domain.Transaction) error {
		var err error
		active, err = activation.ValidateAndActivate(tx, versionID, roundID, validate)
		return err
	})
	return active, res, err
}

// BackfillVersion copies hierarchy and rei rows from oldVersionID into
// newVersionID.
func (s *Service) BackfillVersion(ctx context.Context, newVersionID, oldVersionID int) (backfill.Counts, domain.Result, error) {
	var counts backfill.Counts
	res, err := s.run(ctx, "backfill_version", func(tx domain.Transaction) error {
		var err error
		counts, err = backfill.Copy(tx, newVersionID, oldVersionID)
		return err
	})
	return counts, res, err
}

// NewVersion describes a version to create with AddVersion.
type NewVersion struct {
	SetID         int
	Version       string
	Description   string
	Justification string
	// RoundID defaults to the service's default round.
	RoundID int
	// BackfillFrom names a version of the same set to copy rows from. When
	// zero the new version is seeded with only the root row.
	BackfillFrom int
}

// AddVersion creates a set version and either backfills it or seeds its root
// row, in one transaction.
func (s *Service) AddVersion(ctx context.Context, in NewVersion) (domain.SequelaSetVersion, backfill.Counts, domain.Result, error) {
	var created domain.SequelaSetVersion
	var counts backfill.Counts
	res, err := s.run(ctx, "add_version", func(tx domain.Transaction) error {
		if _, ok := tx.FindSet(in.SetID); !ok {
			return domain.NotFoundError{Table: string(domain.EntitySet), Key: keyString(request.ColSetID, in.SetID)}
		}
		if in.Version == "" {
			return domain.MissingFieldError{Table: string(domain.EntitySetVersion), Fields: []string{request.ColVersion}}
		}
		round := in.RoundID
		if round == 0 {
			round = s.round
		}
		var err error
		created, err = tx.CreateSetVersion(domain.SequelaSetVersion{
			SetID:         in.SetID,
			Version:       in.Version,
			Description:   in.Description,
			Justification: in.Justification,
			RoundID:       round,
		})
		if err != nil {
			return err
		}
		if in.BackfillFrom != 0 {
			counts, err = backfill.Copy(tx, created.ID, in.BackfillFrom)
			return err
		}
		_, err = hierarchy.NewEngine(tx, created.ID).EnsureRoot()
		return err
	})
	if err != nil {
		return domain.SequelaSetVersion{}, backfill.Counts{}, res, err
	}
	return created, counts, res, nil
}
