package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GenesisHash anchors the first event of a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// chainBody is the hashed projection of an Event. Field order is fixed by the
// struct and map keys are sorted by encoding/json, so the encoding is stable.
type chainBody struct {
	ID             string            `json:"id"`
	Category       string            `json:"category"`
	Timestamp      string            `json:"timestamp"`
	SubjectID      string            `json:"subject_id"`
	VerificationID string            `json:"verification_id"`
	Action         string            `json:"action"`
	Decision       string            `json:"decision"`
	Reason         string            `json:"reason"`
	RequestID      string            `json:"request_id"`
	ActorID        string            `json:"actor_id"`
	Severity       string            `json:"severity"`
	Details        map[string]string `json:"details"`
	PrevHash       string            `json:"prev_hash"`
}

// Seal links event to prevHash and computes its hash.
func Seal(prevHash string, event Event) (Event, error) {
	if prevHash == "" {
		prevHash = GenesisHash
	}
	event.PrevHash = prevHash
	h, err := hashEvent(event)
	if err != nil {
		return Event{}, err
	}
	event.Hash = h
	return event, nil
}

func hashEvent(event Event) (string, error) {
	body := chainBody{
		ID:             event.ID,
		Category:       string(event.Category),
		Timestamp:      event.Timestamp.UTC().Format(time.RFC3339Nano),
		SubjectID:      event.SubjectID.String(),
		VerificationID: event.VerificationID.String(),
		Action:         event.Action,
		Decision:       event.Decision,
		Reason:         event.Reason,
		RequestID:      event.RequestID,
		ActorID:        event.ActorID,
		Severity:       string(event.Severity),
		Details:        event.Details,
		PrevHash:       event.PrevHash,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode audit event: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// ChainError identifies the first event whose link or hash does not verify.
type ChainError struct {
	Index  int
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at %d: %s", e.Index, e.Reason)
}

// VerifyChain checks that events form an unbroken hash chain from the
// genesis hash. Any edit, insertion, deletion or reorder is detected.
func VerifyChain(events []Event) error {
	prev := GenesisHash
	for i, e := range events {
		if e.PrevHash != prev {
			return &ChainError{Index: i, Reason: "previous hash mismatch"}
		}
		h, err := hashEvent(e)
		if err != nil {
			return err
		}
		if h != e.Hash {
			return &ChainError{Index: i, Reason: "content hash mismatch"}
		}
		prev = e.Hash
	}
	return nil
}
