package audit

import (
	"time"

	id "aegis/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal/regulatory significance:
	// PII writes, decisions, credential lifecycle, erasure.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers access violations and tamper detection.
	// These feed into SIEM systems and alerting pipelines.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine flow events. These can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is the transport-agnostic audit record. Stores that chain events set
// PrevHash and Hash; everything else is filled by the emitter.
type Event struct {
	ID             string
	Category       EventCategory
	Timestamp      time.Time
	SubjectID      id.SubjectID
	VerificationID id.VerificationID
	Action         string
	Decision       string
	Reason         string
	RequestID      string
	// ActorID is the reviewer or operator when the action was not taken by
	// the subject or the system itself.
	ActorID  string
	Severity Severity
	Details  map[string]string
	PrevHash string
	Hash     string
}

type AuditEvent string

const (
	// Vault events
	EventVaultFieldUpdated     AuditEvent = "vault_field_updated"
	EventVaultFieldRead        AuditEvent = "vault_field_read"
	EventVaultAccessDenied     AuditEvent = "vault_access_denied"
	EventVaultIntegrityFailure AuditEvent = "vault_integrity_failure"
	EventVaultAnonymized       AuditEvent = "vault_anonymized"
	EventVaultKeyRotated       AuditEvent = "vault_key_rotated"

	// Verification events
	EventVerificationInitiated AuditEvent = "verification_initiated"
	EventStepCompleted         AuditEvent = "step_completed"
	EventAssessmentRecorded    AuditEvent = "assessment_recorded"
	EventStateChanged          AuditEvent = "state_changed"
	EventRequiredStepsRaised   AuditEvent = "required_steps_raised"
	EventDecisionMade          AuditEvent = "decision_made"
	EventVerificationAbandoned AuditEvent = "verification_abandoned"
	EventSignalAbsent          AuditEvent = "signal_absent"
	EventStepFailed            AuditEvent = "step_failed"

	// Review events
	EventReviewRequested AuditEvent = "review_requested"
	EventReviewAssigned  AuditEvent = "review_assigned"
	EventReviewEscalated AuditEvent = "review_escalated"
	EventReviewDecided   AuditEvent = "review_decided"
	EventReviewForbidden AuditEvent = "review_forbidden"

	// Credential events
	EventCredentialIssued           AuditEvent = "credential_issued"
	EventCredentialRevoked          AuditEvent = "credential_revoked"
	EventCredentialExpired          AuditEvent = "credential_expired"
	EventCredentialSignatureInvalid AuditEvent = "credential_signature_invalid"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventVaultFieldUpdated:     CategoryCompliance,
	EventVaultAnonymized:       CategoryCompliance,
	EventVaultKeyRotated:       CategoryCompliance,
	EventVerificationInitiated: CategoryCompliance,
	EventAssessmentRecorded:    CategoryCompliance,
	EventStateChanged:          CategoryCompliance,
	EventRequiredStepsRaised:   CategoryCompliance,
	EventDecisionMade:          CategoryCompliance,
	EventVerificationAbandoned: CategoryCompliance,
	EventReviewDecided:         CategoryCompliance,
	EventCredentialIssued:      CategoryCompliance,
	EventCredentialRevoked:     CategoryCompliance,
	EventCredentialExpired:     CategoryCompliance,

	EventVaultAccessDenied:          CategorySecurity,
	EventVaultIntegrityFailure:      CategorySecurity,
	EventReviewForbidden:            CategorySecurity,
	EventCredentialSignatureInvalid: CategorySecurity,
	EventStepFailed:                 CategorySecurity,

	EventVaultFieldRead:  CategoryOperations,
	EventStepCompleted:   CategoryOperations,
	EventSignalAbsent:    CategoryOperations,
	EventReviewRequested: CategoryOperations,
	EventReviewAssigned:  CategoryOperations,
	EventReviewEscalated: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Severity levels for security events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// -----------------------------------------------------------------------------
// Right-sized event types for the tri-publisher architecture
// -----------------------------------------------------------------------------

// ComplianceEvent captures regulatory-significant actions requiring guaranteed persistence.
// Use with the compliance publisher for fail-closed semantics.
type ComplianceEvent struct {
	Timestamp      time.Time
	SubjectID      id.SubjectID // required
	VerificationID id.VerificationID
	Action         AuditEvent // required
	Decision       string
	Reason         string
	RequestID      string
	ActorID        string
	Details        map[string]string
}

func (e ComplianceEvent) Category() EventCategory { return CategoryCompliance }

// ToEvent converts to the store representation.
func (e ComplianceEvent) ToEvent() Event {
	return Event{
		Category:       CategoryCompliance,
		Timestamp:      e.Timestamp,
		SubjectID:      e.SubjectID,
		VerificationID: e.VerificationID,
		Action:         string(e.Action),
		Decision:       e.Decision,
		Reason:         e.Reason,
		RequestID:      e.RequestID,
		ActorID:        e.ActorID,
		Details:        e.Details,
	}
}

// SecurityEvent captures access violations and tamper detection for SIEM and alerting.
type SecurityEvent struct {
	Timestamp      time.Time
	SubjectID      id.SubjectID
	VerificationID id.VerificationID
	Action         AuditEvent
	Reason         string
	IP             string
	RequestID      string
	ActorID        string
	Severity       Severity
	Details        map[string]string
}

func (e SecurityEvent) Category() EventCategory { return CategorySecurity }

func (e SecurityEvent) ToEvent() Event {
	details := e.Details
	if e.IP != "" {
		details = withDetail(details, "ip", e.IP)
	}
	return Event{
		Category:       CategorySecurity,
		Timestamp:      e.Timestamp,
		SubjectID:      e.SubjectID,
		VerificationID: e.VerificationID,
		Action:         string(e.Action),
		Reason:         e.Reason,
		RequestID:      e.RequestID,
		ActorID:        e.ActorID,
		Severity:       e.Severity,
		Details:        details,
	}
}

// OpsEvent captures operational events with minimal overhead.
type OpsEvent struct {
	Timestamp      time.Time
	SubjectID      id.SubjectID
	VerificationID id.VerificationID
	Action         AuditEvent
	RequestID      string
	Details        map[string]string
}

func (e OpsEvent) Category() EventCategory { return CategoryOperations }

func (e OpsEvent) ToEvent() Event {
	return Event{
		Category:       CategoryOperations,
		Timestamp:      e.Timestamp,
		SubjectID:      e.SubjectID,
		VerificationID: e.VerificationID,
		Action:         string(e.Action),
		RequestID:      e.RequestID,
		Details:        e.Details,
	}
}

func withDetail(details map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out[key] = value
	return out
}
