package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"aegis/internal/review/bus"
	"aegis/internal/review/metrics"
	"aegis/internal/review/models"
	"aegis/internal/risk"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
	"aegis/pkg/requestcontext"
)

type Store interface {
	Get(ctx context.Context, reviewID id.ReviewID) (*models.Task, error)
	GetByVerification(ctx context.Context, verificationID id.VerificationID) (*models.Task, error)
	Save(ctx context.Context, t *models.Task, expectedVersion int64) error
	ListPending(ctx context.Context, limit int) ([]*models.Task, error)
	All(ctx context.Context) ([]*models.Task, error)
}

const (
	defaultMaxAttempts = 5
	defaultPageSize    = 50
)

// Service is the manual review queue. Decisions leave it only as commands
// on the bus.
type Service struct {
	store       Store
	commands    bus.Publisher
	compliance  audit.Compliance
	security    audit.Security
	ops         audit.Ops
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxAttempts int
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithSecurityPublisher(p audit.Security) Option {
	return func(s *Service) {
		s.security = p
	}
}

func WithOpsTracker(t audit.Ops) Option {
	return func(s *Service) {
		s.ops = t
	}
}

func New(store Store, commands bus.Publisher, compliance audit.Compliance, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("review store is required")
	}
	if commands == nil {
		return nil, errors.New("command publisher is required")
	}
	if compliance == nil {
		return nil, errors.New("compliance publisher is required")
	}
	s := &Service{
		store:       store,
		commands:    commands,
		compliance:  compliance,
		security:    nopSecurity{},
		ops:         nopOps{},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnqueueRequest describes a verification parked in manual review.
type EnqueueRequest struct {
	VerificationID id.VerificationID
	SubjectID      id.SubjectID
	CompositeScore float64
	Tier           risk.Tier
	Reason         string
	HardFails      []string
	RequestedAt    time.Time
}

// Enqueue creates the task for a verification, or returns the existing one.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Task, error) {
	if req.VerificationID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "verification ID required")
	}
	if existing, err := s.store.GetByVerification(ctx, req.VerificationID); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up review task")
	}

	createdAt := req.RequestedAt
	if createdAt.IsZero() {
		createdAt = requestcontext.Now(ctx)
	}
	task := &models.Task{
		ID:             id.ReviewID(uuid.New()),
		VerificationID: req.VerificationID,
		SubjectID:      req.SubjectID,
		Priority:       models.PriorityFor(req.CompositeScore, req.Tier, req.HardFails),
		Status:         models.StatusPending,
		Reason:         req.Reason,
		CompositeScore: req.CompositeScore,
		Tier:           req.Tier,
		HardFails:      req.HardFails,
		CreatedAt:      createdAt,
	}
	if err := s.store.Save(ctx, task, 0); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return s.store.GetByVerification(ctx, req.VerificationID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create review task")
	}

	s.metrics.IncEnqueued(task.Priority.String())
	s.ops.Track(ctx, audit.OpsEvent{
		Timestamp:      requestcontext.Now(ctx),
		SubjectID:      task.SubjectID,
		VerificationID: task.VerificationID,
		Action:         audit.EventReviewRequested,
		RequestID:      requestcontext.RequestID(ctx),
		Details:        map[string]string{"review_id": task.ID.String(), "priority": task.Priority.String(), "reason": task.Reason},
	})
	s.logger.InfoContext(ctx, "review task enqueued",
		"review_id", task.ID.String(),
		"verification_id", task.VerificationID.String(),
		"priority", task.Priority.String(),
	)
	return task, nil
}

// ListPending returns pending tasks, most urgent and oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	tasks, err := s.store.ListPending(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list review tasks")
	}
	return tasks, nil
}

func (s *Service) Get(ctx context.Context, reviewID id.ReviewID) (*models.Task, error) {
	task, err := s.store.Get(ctx, reviewID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "review task not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load review task")
	}
	return task, nil
}

func (s *Service) Assign(ctx context.Context, reviewID id.ReviewID, reviewer id.ReviewerID) (*models.Task, error) {
	if reviewer.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reviewer ID required")
	}
	task, changed, err := s.mutate(ctx, reviewID, func(t *models.Task, now time.Time) (bool, error) {
		return t.Assign(reviewer, now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.ops.Track(ctx, audit.OpsEvent{
			Timestamp:      requestcontext.Now(ctx),
			SubjectID:      task.SubjectID,
			VerificationID: task.VerificationID,
			Action:         audit.EventReviewAssigned,
			RequestID:      requestcontext.RequestID(ctx),
			Details:        map[string]string{"review_id": task.ID.String(), "reviewer_id": reviewer.String()},
		})
	}
	return task, nil
}

// Complete records the assignee's decision and publishes it as a command.
// Repeating the same decision republishes the command, which recovers from
// a failed publish.
func (s *Service) Complete(ctx context.Context, reviewID id.ReviewID, reviewer id.ReviewerID, decision models.Decision, notes string) (*models.Task, error) {
	if reviewer.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reviewer ID required")
	}
	if _, err := models.ParseDecision(string(decision)); err != nil {
		return nil, err
	}

	task, _, err := s.mutate(ctx, reviewID, func(t *models.Task, now time.Time) (bool, error) {
		if t.Status == models.StatusCompleted && t.AssignedTo == reviewer && t.Decision == decision {
			return false, nil
		}
		return true, t.Complete(reviewer, decision, notes, now)
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeForbidden) {
			s.security.Emit(ctx, audit.SecurityEvent{
				Timestamp: requestcontext.Now(ctx),
				Action:    audit.EventReviewForbidden,
				Reason:    "decision by a reviewer the task is not assigned to",
				IP:        requestcontext.ClientIP(ctx),
				RequestID: requestcontext.RequestID(ctx),
				ActorID:   reviewer.String(),
				Severity:  audit.SeverityWarning,
				Details:   map[string]string{"review_id": reviewID.String()},
			})
		}
		return nil, err
	}

	// A retry after a failed emit finds the task completed but unaudited
	// and records the decision then.
	if !task.DecisionAudited {
		if task, err = s.auditDecision(ctx, task); err != nil {
			return nil, err
		}
	}

	cmd := bus.Command{
		ReviewID:       task.ID,
		VerificationID: task.VerificationID,
		Decision:       task.Decision,
		ReviewerID:     reviewer,
		Notes:          task.Notes,
		DecidedAt:      *task.CompletedAt,
	}
	if err := s.commands.Publish(ctx, cmd); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish review decision",
			"review_id", task.ID.String(),
			"verification_id", task.VerificationID.String(),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "review decision recorded but not yet delivered, please retry")
	}
	return task, nil
}

// auditDecision emits the decision to the compliance trail and marks the
// task audited. A failed mark leaves the task unaudited, so a retry may
// record the decision twice but never zero times.
func (s *Service) auditDecision(ctx context.Context, task *models.Task) (*models.Task, error) {
	err := s.compliance.Emit(ctx, audit.ComplianceEvent{
		Timestamp:      requestcontext.Now(ctx),
		SubjectID:      task.SubjectID,
		VerificationID: task.VerificationID,
		Action:         audit.EventReviewDecided,
		Decision:       string(task.Decision),
		RequestID:      requestcontext.RequestID(ctx),
		ActorID:        task.AssignedTo.String(),
		Details: map[string]string{
			"review_id":       task.ID.String(),
			"priority":        task.Priority.String(),
			"composite_score": strconv.FormatFloat(task.CompositeScore, 'f', 2, 64),
		},
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record review decision")
	}
	s.metrics.IncDecided(string(task.Decision))

	marked, _, err := s.mutate(ctx, task.ID, func(t *models.Task, _ time.Time) (bool, error) {
		return t.MarkAudited(), nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "review decision audited but not marked",
			"review_id", task.ID.String(),
			"error", err,
		)
		return task, nil
	}
	return marked, nil
}

// Escalate raises a task to urgent.
func (s *Service) Escalate(ctx context.Context, reviewID id.ReviewID, reason string) (*models.Task, error) {
	task, changed, err := s.mutate(ctx, reviewID, func(t *models.Task, now time.Time) (bool, error) {
		return t.Escalate(now)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.IncEscalated()
		s.ops.Track(ctx, audit.OpsEvent{
			Timestamp:      requestcontext.Now(ctx),
			SubjectID:      task.SubjectID,
			VerificationID: task.VerificationID,
			Action:         audit.EventReviewEscalated,
			RequestID:      requestcontext.RequestID(ctx),
			Details:        map[string]string{"review_id": task.ID.String(), "reason": reason},
		})
	}
	return task, nil
}

func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	tasks, err := s.store.All(ctx)
	if err != nil {
		return models.Stats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read review queue")
	}
	st := models.Tally(tasks)
	s.metrics.SetDepth(st.Pending, st.InReview)
	return st, nil
}

type taskMutation func(t *models.Task, now time.Time) (changed bool, err error)

func (s *Service) mutate(ctx context.Context, reviewID id.ReviewID, fn taskMutation) (*models.Task, bool, error) {
	for attempt := 1; ; attempt++ {
		task, err := s.Get(ctx, reviewID)
		if err != nil {
			return nil, false, err
		}
		expected := task.Version
		changed, err := fn(task, requestcontext.Now(ctx))
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return task, false, nil
		}
		err = s.store.Save(ctx, task, expected)
		if err == nil {
			return task, true, nil
		}
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save review task")
		}
		if attempt >= s.maxAttempts {
			return nil, false, dErrors.Wrap(err, dErrors.CodeConflict, "review task modified concurrently, please retry")
		}
	}
}

type nopSecurity struct{}

func (nopSecurity) Emit(context.Context, audit.SecurityEvent) {}

type nopOps struct{}

func (nopOps) Track(context.Context, audit.OpsEvent) {}
