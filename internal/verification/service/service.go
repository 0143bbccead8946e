package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"aegis/internal/risk"
	"aegis/internal/signals"
	"aegis/internal/signals/device"
	"aegis/internal/verification/metrics"
	"aegis/internal/verification/models"
	"aegis/internal/verification/ports"
	id "aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	"aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
	txcontext "aegis/pkg/platform/tx"
	"aegis/pkg/requestcontext"
)

// Store persists verification requests with optimistic concurrency on
// Request.Version.
type Store interface {
	Get(ctx context.Context, requestID id.VerificationID) (*models.Request, error)
	Save(ctx context.Context, req *models.Request, expectedVersion int64) error
	ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]*models.Request, error)
}

const defaultMaxAttempts = 5

// Service drives verification requests through the state machine. Every
// mutation is a read-modify-write of one request guarded by its version.
type Service struct {
	store       Store
	assessor    ports.Assessor
	collector   ports.SignalCollector
	issuer      ports.CredentialIssuer
	reviews     ports.ReviewQueue
	tx          txcontext.Runner
	compliance  audit.Compliance
	security    audit.Security
	ops         audit.Ops
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
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

// WithSignalCollector gathers ambient signals (device, geolocation,
// behavior) on initiation and after every step.
func WithSignalCollector(c ports.SignalCollector) Option {
	return func(s *Service) {
		s.collector = c
	}
}

func WithCredentialIssuer(i ports.CredentialIssuer) Option {
	return func(s *Service) {
		s.issuer = i
	}
}

func WithReviewQueue(q ports.ReviewQueue) Option {
	return func(s *Service) {
		s.reviews = q
	}
}

func WithTxRunner(r txcontext.Runner) Option {
	return func(s *Service) {
		s.tx = r
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

// WithMaxAttempts bounds the compare-and-swap retries per operation.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func New(store Store, assessor ports.Assessor, compliance audit.Compliance, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("verification store is required")
	}
	if assessor == nil {
		return nil, errors.New("risk assessor is required")
	}
	if compliance == nil {
		return nil, errors.New("compliance publisher is required")
	}
	s := &Service{
		store:       store,
		assessor:    assessor,
		compliance:  compliance,
		tx:          txcontext.NopRunner{},
		security:    nopSecurity{},
		ops:         nopOps{},
		logger:      slog.Default(),
		tracer:      otel.Tracer("aegis/verification"),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StepReport is an external check's result for one step, plus any signals
// the check produced (document, biometric).
type StepReport struct {
	Step     models.StepID
	Outcome  models.CheckOutcome
	SubScore float64
	Signals  []risk.Signal
	Details  map[string]string
}

func (r StepReport) validate() error {
	if !r.Step.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown verification step")
	}
	if !r.Outcome.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "outcome must be passed or failed")
	}
	if math.IsNaN(r.SubScore) || r.SubScore < 0 || r.SubScore > 100 {
		return dErrors.New(dErrors.CodeInvalidInput, "sub-score must be within [0,100]")
	}
	return nil
}

// ReviewDecision is a human reviewer's command for a request in manual
// review.
type ReviewDecision struct {
	VerificationID id.VerificationID
	Decision       models.Decision
	ReviewerID     id.ReviewerID
	Notes          string
}

// Initiate opens a request for subjectID. The first assessment of the
// ambient signals picks the routing tier; with too little evidence that
// tier is high.
func (s *Service) Initiate(ctx context.Context, subjectID id.SubjectID) (*models.Request, error) {
	return s.initiate(ctx, "initiate", subjectID, nil)
}

// Reverify opens a new request that supersedes a finished one. The new
// request starts no lower than the prior routing tier.
func (s *Service) Reverify(ctx context.Context, priorID id.VerificationID) (*models.Request, error) {
	prior, err := s.Get(ctx, priorID)
	if err != nil {
		return nil, err
	}
	if !prior.State.IsTerminal() {
		return nil, dErrors.New(dErrors.CodePrecondition, "prior verification has not finished")
	}
	return s.initiate(ctx, "reverify", prior.SubjectID, prior)
}

func (s *Service) initiate(ctx context.Context, op string, subjectID id.SubjectID, prior *models.Request) (req *models.Request, err error) {
	start := time.Now()
	requestID := id.VerificationID(uuid.New())
	ctx, span := s.tracer.Start(ctx, "verification."+op, trace.WithAttributes(attribute.String("verification.id", requestID.String())))
	defer func() {
		s.metrics.Observe(op, start, err)
		endSpan(span, err)
	}()

	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "subject ID required")
	}

	fingerprint := ""
	if ua := requestcontext.UserAgent(ctx); ua != "" {
		fingerprint = device.ComputeFingerprint(ua)
	}
	collected := s.collect(ctx, signals.SubjectContext{
		SubjectID:      subjectID,
		VerificationID: requestID,
		ClientIP:       requestcontext.ClientIP(ctx),
		UserAgent:      requestcontext.UserAgent(ctx),
	})

	now := requestcontext.Now(ctx)
	assessment := s.assessor.Assess(collected.Signals)
	tier := assessment.Tier
	if prior != nil {
		tier = risk.MaxTier(tier, prior.Tier)
	}

	req = models.NewRequest(requestID, subjectID, tier, now)
	req.DeviceFingerprint = fingerprint
	req.MergeSignals(collected.Signals)
	req.RecordAssessment(assessment, false)
	for _, a := range collected.Absent {
		req.NoteAbsent(a.Source, absenceCause(a), now)
	}
	if prior != nil {
		req.PriorRequestID = prior.ID
	}

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Save(ctx, req, 0); err != nil {
			return err
		}
		details := map[string]string{
			"tier":           string(req.Tier),
			"required_steps": joinSteps(req.RequiredSteps),
		}
		if prior != nil {
			details["prior_request_id"] = prior.ID.String()
		}
		return s.emit(ctx, req, []audit.ComplianceEvent{
			{Action: audit.EventVerificationInitiated, Details: details},
			assessmentEvent(assessment),
		})
	})
	if err != nil {
		return nil, s.fail(ctx, req, "", s.translate(err))
	}
	s.trackAbsences(ctx, req, collected.Absent)
	s.logger.InfoContext(ctx, "verification initiated",
		"verification_id", req.ID.String(),
		"subject_id", subjectID.String(),
		"tier", string(req.Tier),
		"insufficient_coverage", assessment.InsufficientCoverage,
	)
	return req, nil
}

// CompleteStep records a step result, reassesses risk over every signal
// seen so far, raises required steps if the risk rose, advances the state
// and decides once all required steps are in. Completing an already
// completed step is a no-op. Results for finished requests are discarded.
func (s *Service) CompleteStep(ctx context.Context, requestID id.VerificationID, report StepReport) (req *models.Request, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "verification.CompleteStep", trace.WithAttributes(
		attribute.String("verification.id", requestID.String()),
		attribute.String("verification.step", report.Step.String()),
	))
	defer func() {
		s.metrics.Observe("complete_step", start, err)
		endSpan(span, err)
	}()

	if err := report.validate(); err != nil {
		return nil, err
	}
	current, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if current.State.IsTerminal() {
		s.metrics.IncDiscarded()
		return nil, dErrors.New(dErrors.CodePrecondition, "verification already finished")
	}

	// Signal collection happens outside the write so a slow producer never
	// holds a transaction open.
	collected := s.collect(ctx, signals.SubjectContext{
		SubjectID:        current.SubjectID,
		VerificationID:   current.ID,
		ClientIP:         requestcontext.ClientIP(ctx),
		UserAgent:        requestcontext.UserAgent(ctx),
		KnownFingerprint: current.DeviceFingerprint,
	})
	incoming := append(append([]risk.Signal(nil), collected.Signals...), report.Signals...)
	thresholds := s.assessor.Policy().Thresholds

	var decided *models.Verdict
	recorded := false
	req, err = s.mutate(ctx, requestID, func(req *models.Request, now time.Time) ([]audit.ComplianceEvent, error) {
		decided, recorded = nil, false
		if req.State.IsTerminal() {
			s.metrics.IncDiscarded()
			return nil, dErrors.New(dErrors.CodePrecondition, "verification already finished")
		}
		if req.IsCompleted(report.Step) {
			return nil, nil
		}
		if err := req.CanComplete(report.Step); err != nil {
			s.metrics.IncStepRejected(report.Step.String())
			return nil, err
		}

		req.RecordCheck(models.CheckResult{
			Step:        report.Step,
			Outcome:     report.Outcome,
			SubScore:    report.SubScore,
			Details:     report.Details,
			CompletedAt: now,
		})
		recorded = true
		if dropped := req.MergeSignals(incoming); dropped > 0 {
			s.logger.WarnContext(ctx, "dropped malformed risk signals",
				"verification_id", req.ID.String(),
				"step", report.Step.String(),
				"dropped", dropped,
			)
		}
		for _, a := range collected.Absent {
			req.NoteAbsent(a.Source, absenceCause(a), now)
		}

		assessment := s.assessor.Assess(req.SignalList())
		events := []audit.ComplianceEvent{assessmentEvent(assessment)}
		// A coverage shortfall mid-flow means evidence is still arriving;
		// it is settled at the decision point instead.
		if added := req.RecordAssessment(assessment, !assessment.InsufficientCoverage); len(added) > 0 {
			s.metrics.IncEscalation()
			events = append(events, audit.ComplianceEvent{
				Action: audit.EventRequiredStepsRaised,
				Reason: "risk tier raised to " + string(req.Tier),
				Details: map[string]string{
					"added": joinSteps(added),
					"tier":  string(req.Tier),
				},
			})
		}

		for _, t := range req.Advance(now) {
			events = append(events, transitionEvent(t))
		}
		if req.State == models.StateAwaitingDecision {
			verdict := models.Decide(req.DecisionInput(thresholds))
			if t, ok := req.ApplyVerdict(verdict, now); ok {
				decided = &verdict
				events = append(events, transitionEvent(t), audit.ComplianceEvent{
					Action:   audit.EventDecisionMade,
					Decision: string(verdict.Decision),
					Reason:   verdict.Reason,
					Details: map[string]string{
						"composite_score": strconv.FormatFloat(assessment.CompositeScore, 'f', 2, 64),
						"tier":            string(req.Tier),
					},
				})
			}
		}
		return events, nil
	})
	if err != nil {
		return nil, s.fail(ctx, current, report.Step, err)
	}
	if !recorded {
		return req, nil
	}

	s.metrics.IncStepCompleted(report.Step.String(), string(report.Outcome))
	s.ops.Track(ctx, audit.OpsEvent{
		Timestamp:      requestcontext.Now(ctx),
		SubjectID:      req.SubjectID,
		VerificationID: req.ID,
		Action:         audit.EventStepCompleted,
		RequestID:      requestcontext.RequestID(ctx),
		Details:        map[string]string{"step": report.Step.String(), "outcome": string(report.Outcome)},
	})
	s.trackAbsences(ctx, req, collected.Absent)
	if decided != nil {
		s.metrics.IncDecision(string(decided.Decision), decided.Reason)
		s.logger.InfoContext(ctx, "verification decided",
			"verification_id", req.ID.String(),
			"decision", string(decided.Decision),
			"reason", decided.Reason,
		)
		s.followUp(ctx, req)
	}
	return req, nil
}

// Abandon ends a request at the subject's request. Producer results that
// arrive later are discarded.
func (s *Service) Abandon(ctx context.Context, requestID id.VerificationID) (req *models.Request, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "verification.Abandon")
	defer func() {
		s.metrics.Observe("abandon", start, err)
		endSpan(span, err)
	}()

	req, err = s.mutate(ctx, requestID, func(req *models.Request, now time.Time) ([]audit.ComplianceEvent, error) {
		t, err := req.Abandon(now)
		if err != nil {
			return nil, err
		}
		return []audit.ComplianceEvent{
			transitionEvent(t),
			{Action: audit.EventVerificationAbandoned, Decision: string(models.DecisionRejected), Reason: models.ReasonAbandoned},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncDecision(string(models.DecisionRejected), models.ReasonAbandoned)
	return req, nil
}

// ApplyReviewDecision applies a reviewer's verdict to a request in manual
// review. Replaying the same command is a no-op.
func (s *Service) ApplyReviewDecision(ctx context.Context, cmd ReviewDecision) (req *models.Request, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "verification.ApplyReviewDecision", trace.WithAttributes(
		attribute.String("verification.id", cmd.VerificationID.String()),
		attribute.String("verification.decision", string(cmd.Decision)),
	))
	defer func() {
		s.metrics.Observe("apply_review_decision", start, err)
		endSpan(span, err)
	}()

	if cmd.ReviewerID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "reviewer ID required")
	}
	ctx = requestcontext.WithReviewerID(ctx, cmd.ReviewerID)

	changed := false
	req, err = s.mutate(ctx, cmd.VerificationID, func(req *models.Request, now time.Time) ([]audit.ComplianceEvent, error) {
		t, ok, err := req.ApplyReview(cmd.Decision, now)
		changed = ok
		if err != nil || !ok {
			return nil, err
		}
		details := map[string]string{}
		if cmd.Notes != "" {
			details["notes"] = cmd.Notes
		}
		return []audit.ComplianceEvent{
			transitionEvent(t),
			{Action: audit.EventDecisionMade, Decision: string(cmd.Decision), Reason: models.ReasonManualReview, Details: details},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.metrics.IncDecision(string(cmd.Decision), models.ReasonManualReview)
		s.logger.InfoContext(ctx, "review decision applied",
			"verification_id", req.ID.String(),
			"decision", string(cmd.Decision),
			"reviewer_id", cmd.ReviewerID.String(),
		)
	}
	// Issuance is idempotent, so a replayed approval also repairs a
	// credential that failed to issue the first time.
	if req.State == models.StateApproved {
		s.followUp(ctx, req)
	}
	return req, nil
}

// EnsureCredential issues the credential of an approved request, returning
// the existing one if it was already issued.
func (s *Service) EnsureCredential(ctx context.Context, requestID id.VerificationID) (id.CredentialID, error) {
	if s.issuer == nil {
		return id.CredentialID{}, dErrors.New(dErrors.CodeUnavailable, "credential issuer not configured")
	}
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return id.CredentialID{}, err
	}
	if req.State != models.StateApproved {
		return id.CredentialID{}, dErrors.New(dErrors.CodePrecondition, "verification is not approved")
	}
	return s.issuer.IssueFor(ctx, s.approval(req))
}

func (s *Service) Get(ctx context.Context, requestID id.VerificationID) (*models.Request, error) {
	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "verification not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification")
	}
	return req, nil
}

// History lists a subject's requests, newest first.
func (s *Service) History(ctx context.Context, subjectID id.SubjectID) ([]*models.Request, error) {
	reqs, err := s.store.ListBySubject(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list verifications")
	}
	return reqs, nil
}

type mutation func(req *models.Request, now time.Time) ([]audit.ComplianceEvent, error)

// mutate applies fn to the latest request and saves it against the version
// it read, retrying on conflict. Events from fn are emitted in the same
// unit of work; no events means nothing changed and nothing is written.
func (s *Service) mutate(ctx context.Context, requestID id.VerificationID, fn mutation) (*models.Request, error) {
	for attempt := 1; ; attempt++ {
		var out *models.Request
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			req, err := s.store.Get(ctx, requestID)
			if err != nil {
				return err
			}
			expected := req.Version
			events, err := fn(req, requestcontext.Now(ctx))
			if err != nil {
				return err
			}
			out = req
			if len(events) == 0 {
				return nil
			}
			if err := s.store.Save(ctx, req, expected); err != nil {
				return err
			}
			return s.emit(ctx, req, events)
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, sentinel.ErrConflict) {
			s.metrics.IncCASConflict()
			if attempt >= s.maxAttempts {
				s.logger.WarnContext(ctx, "verification write gave up after conflicts",
					"verification_id", requestID.String(),
					"attempts", attempt,
				)
				return nil, dErrors.Wrap(err, dErrors.CodeConflict, "verification modified concurrently, please retry")
			}
			continue
		}
		return nil, s.translate(err)
	}
}

func (s *Service) translate(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "verification not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "verification already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist verification")
	}
}

func (s *Service) emit(ctx context.Context, req *models.Request, events []audit.ComplianceEvent) error {
	now := requestcontext.Now(ctx)
	actor := ""
	if reviewer := requestcontext.ReviewerID(ctx); !reviewer.IsNil() {
		actor = reviewer.String()
	}
	for _, e := range events {
		e.Timestamp = now
		e.SubjectID = req.SubjectID
		e.VerificationID = req.ID
		e.RequestID = requestcontext.RequestID(ctx)
		if e.ActorID == "" {
			e.ActorID = actor
		}
		if err := s.compliance.Emit(ctx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification audit event")
		}
	}
	return nil
}

// fail audits fatal errors before they are surfaced. Callers see only the
// generic public message for these.
func (s *Service) fail(ctx context.Context, req *models.Request, step models.StepID, err error) error {
	if !dErrors.IsFatal(err) {
		return err
	}
	details := map[string]string{"code": string(dErrors.CodeOf(err))}
	if step != "" {
		details["step"] = step.String()
	}
	event := audit.SecurityEvent{
		Timestamp: requestcontext.Now(ctx),
		Action:    audit.EventStepFailed,
		Reason:    dErrors.PublicStepFailure,
		IP:        requestcontext.ClientIP(ctx),
		RequestID: requestcontext.RequestID(ctx),
		Severity:  audit.SeverityWarning,
		Details:   details,
	}
	if req != nil {
		event.SubjectID = req.SubjectID
		event.VerificationID = req.ID
	}
	if dErrors.HasCode(err, dErrors.CodeIntegrity) {
		event.Severity = audit.SeverityCritical
	}
	s.security.Emit(ctx, event)
	s.logger.ErrorContext(ctx, "verification step failed",
		"step", step.String(),
		"error", err,
	)
	return err
}

func (s *Service) collect(ctx context.Context, sc signals.SubjectContext) signals.Result {
	if s.collector == nil {
		return signals.Result{}
	}
	return s.collector.Collect(ctx, sc)
}

func (s *Service) trackAbsences(ctx context.Context, req *models.Request, absent []signals.Absence) {
	for _, a := range absent {
		s.ops.Track(ctx, audit.OpsEvent{
			Timestamp:      requestcontext.Now(ctx),
			SubjectID:      req.SubjectID,
			VerificationID: req.ID,
			Action:         audit.EventSignalAbsent,
			RequestID:      requestcontext.RequestID(ctx),
			Details:        map[string]string{"source": a.Source.String(), "cause": absenceCause(a)},
		})
	}
}

func absenceCause(a signals.Absence) string {
	if signals.IsTimeout(a.Err) {
		return "timeout"
	}
	return "error"
}

func assessmentEvent(a risk.Assessment) audit.ComplianceEvent {
	sources := make([]string, 0, len(a.Signals))
	for _, src := range a.Sources() {
		sources = append(sources, src.String())
	}
	details := map[string]string{
		"assessment_id":   a.ID.String(),
		"composite_score": strconv.FormatFloat(a.CompositeScore, 'f', 2, 64),
		"tier":            string(a.Tier),
		"coverage":        strconv.FormatFloat(a.Coverage, 'f', 3, 64),
		"sources":         strings.Join(sources, ","),
		"policy_version":  a.PolicyVersion,
	}
	if a.InsufficientCoverage {
		details["insufficient_coverage"] = "true"
	}
	if len(a.HardFails) > 0 {
		details["hard_fails"] = strings.Join(a.HardFails, ",")
	}
	return audit.ComplianceEvent{Action: audit.EventAssessmentRecorded, Details: details}
}

func transitionEvent(t models.Transition) audit.ComplianceEvent {
	return audit.ComplianceEvent{
		Action:  audit.EventStateChanged,
		Details: map[string]string{"from": t.From.String(), "to": t.To.String()},
	}
}

func joinSteps(steps []models.StepID) string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type nopSecurity struct{}

func (nopSecurity) Emit(context.Context, audit.SecurityEvent) {}

type nopOps struct{}

func (nopOps) Track(context.Context, audit.OpsEvent) {}
