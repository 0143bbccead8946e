package audit

import (
	"context"

	id "aegis/pkg/domain"
)

// Store is the append-only sink every publisher writes through.
// Implementations never update or delete an appended event.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Reader is implemented by stores that can replay events. The core never
// reads its own trail for decisions; readers exist for operators and tests.
type Reader interface {
	ListBySubject(ctx context.Context, subjectID id.SubjectID) ([]Event, error)
	ListAll(ctx context.Context) ([]Event, error)
}

// Compliance emits fail-closed events. Callers abort when Emit fails.
type Compliance interface {
	Emit(ctx context.Context, event ComplianceEvent) error
}

// Security emits security events without blocking the caller.
type Security interface {
	Emit(ctx context.Context, event SecurityEvent)
}

// Ops tracks routine events, possibly sampled.
type Ops interface {
	Track(ctx context.Context, event OpsEvent)
}
