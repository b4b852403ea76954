package audit

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rcm/rcm/internal/platform/auth"
	"github.com/rcm/rcm/internal/platform/masking"
	"github.com/rcm/rcm/internal/platform/metrics"
)

// DefaultMaxAgeDays keeps rotated audit files for seven years.
const DefaultMaxAgeDays = 2555

// FileConfig configures the rotating audit file. An empty Path disables the
// file sink.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Option overrides fields of an entry before it is written.
type Option func(*Entry)

// WithSeverity overrides the default severity.
func WithSeverity(s Severity) Option {
	return func(e *Entry) { e.Severity = s }
}

// WithCorrelationID overrides the correlation id taken from the request.
func WithCorrelationID(id string) Option {
	return func(e *Entry) { e.CorrelationID = id }
}

// WithMetadata attaches metadata. It is masked before it is stored.
func WithMetadata(m map[string]any) Option {
	return func(e *Entry) { e.Metadata = m }
}

// WithDescription replaces the generated description.
func WithDescription(d string) Option {
	return func(e *Entry) { e.Description = d }
}

// Logger writes audit entries to a repository and a rotating file. Write
// failures are logged and counted; they never reach the caller.
type Logger struct {
	repo   Repository
	masker *masking.Engine
	file   zerolog.Logger
	closer io.Closer
	logger zerolog.Logger
	now    func() time.Time
}

// NewLogger returns a Logger persisting to repo. A nil masker uses the
// default rule set.
func NewLogger(repo Repository, masker *masking.Engine, cfg FileConfig, logger zerolog.Logger) *Logger {
	l := newLogger(repo, masker, logger)
	if cfg.Path == "" {
		return l
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = DefaultMaxAgeDays
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	l.closer = lj
	l.file = l.fileLogger(lj)
	return l
}

// NewLoggerWithWriter is NewLogger with the file sink replaced by w.
func NewLoggerWithWriter(repo Repository, masker *masking.Engine, w io.Writer, logger zerolog.Logger) *Logger {
	l := newLogger(repo, masker, logger)
	l.file = l.fileLogger(w)
	return l
}

func newLogger(repo Repository, masker *masking.Engine, logger zerolog.Logger) *Logger {
	if masker == nil {
		masker = masking.NewEngine(masking.DefaultRuleSet())
	}
	return &Logger{
		repo:   repo,
		masker: masker,
		file:   zerolog.Nop(),
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Logger) fileLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(&sinkWriter{w: w, logger: l.logger}).With().Str("type", "audit").Logger()
}

// Close closes the rotating file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// LogUserActivity records login, logout and similar account events.
func (l *Logger) LogUserActivity(ctx context.Context, user *auth.User, event EventType, description string, opts ...Option) {
	e := l.newEntry(ctx, user, event, CategoryUserActivity)
	e.ResourceType = "user"
	if user != nil {
		e.ResourceID = user.ID
	}
	e.Description = description
	l.write(ctx, e, opts)
}

// LogDataAccess records a read, export or PHI access of a resource.
func (l *Logger) LogDataAccess(ctx context.Context, user *auth.User, event EventType, resourceType, resourceID string, opts ...Option) {
	e := l.newEntry(ctx, user, event, CategoryDataAccess)
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	e.Description = fmt.Sprintf("%s %s %s", event, resourceType, resourceID)
	l.write(ctx, e, opts)
}

// LogDataChange records a create, update or delete together with the state
// before and after the change. Either snapshot may be nil.
func (l *Logger) LogDataChange(ctx context.Context, user *auth.User, event EventType, resourceType, resourceID string, before, after map[string]any, opts ...Option) {
	e := l.newEntry(ctx, user, event, CategoryDataChange)
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	e.Description = fmt.Sprintf("%s %s %s", event, resourceType, resourceID)
	e.Before = before
	e.After = after
	l.write(ctx, e, opts)
}

// LogSecurityEvent records failed logins, denials, permission and key
// changes.
func (l *Logger) LogSecurityEvent(ctx context.Context, user *auth.User, event EventType, description string, opts ...Option) {
	e := l.newEntry(ctx, user, event, CategorySecurity)
	e.Description = description
	l.write(ctx, e, opts)
}

func (l *Logger) newEntry(ctx context.Context, user *auth.User, event EventType, cat Category) *Entry {
	info := RequestInfoFromContext(ctx)
	e := &Entry{
		ID:            uuid.New(),
		EventType:     event,
		Category:      cat,
		Severity:      DefaultSeverity(event),
		IPAddress:     info.IPAddress,
		UserAgent:     info.UserAgent,
		CorrelationID: info.CorrelationID,
		Timestamp:     l.now(),
	}
	if user != nil {
		id := user.ID
		e.UserID = &id
		e.UserName = user.Name
	}
	return e
}

func (l *Logger) write(ctx context.Context, e *Entry, opts []Option) {
	for _, opt := range opts {
		opt(e)
	}
	l.mask(e)
	if e.EventType == EventAccessDenied {
		markDenial(ctx)
	}

	// Persist even when the request has been cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := l.repo.Create(ctx, e); err != nil {
		metrics.AuditWriteFailures.WithLabelValues("repository").Inc()
		l.logger.Error().Err(err).
			Str("audit_id", e.ID.String()).
			Str("event_type", string(e.EventType)).
			Msg("failed to persist audit entry")
	}

	l.file.WithLevel(fileLevel(e.Severity)).
		Str("audit_id", e.ID.String()).
		Str("user_id", e.Actor()).
		Str("user_name", e.UserName).
		Str("event_type", string(e.EventType)).
		Str("category", string(e.Category)).
		Str("severity", string(e.Severity)).
		Str("resource_type", e.ResourceType).
		Str("resource_id", e.ResourceID).
		Interface("metadata", e.Metadata).
		Interface("before", e.Before).
		Interface("after", e.After).
		Str("ip_address", e.IPAddress).
		Str("user_agent", e.UserAgent).
		Str("correlation_id", e.CorrelationID).
		Time("timestamp", e.Timestamp).
		Msg(e.Description)

	metrics.AuditEvents.WithLabelValues(string(e.Category)).Inc()
}

func (l *Logger) mask(e *Entry) {
	opts := masking.Options{Level: masking.LevelPartial}
	e.Description = l.masker.MaskString(e.Description)
	e.Metadata = l.masker.MaskMap(e.Metadata, opts)
	e.Before = l.masker.MaskMap(e.Before, opts)
	e.After = l.masker.MaskMap(e.After, opts)
}

func fileLevel(s Severity) zerolog.Level {
	switch s {
	case SeverityWarning:
		return zerolog.WarnLevel
	case SeverityError, SeverityCritical:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// sinkWriter counts and logs failed writes to the audit file.
type sinkWriter struct {
	w      io.Writer
	logger zerolog.Logger
}

func (s *sinkWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		metrics.AuditWriteFailures.WithLabelValues("file").Inc()
		s.logger.Error().Err(err).Msg("failed to write audit file")
	}
	return n, err
}
