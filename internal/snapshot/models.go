// Package snapshot stores wizard answer snapshots.
//
// Snapshots are append-only: every change to a wizard's answers lands as a
// new row with a bumped version. Resolution runs read a specific version so
// a run can be replayed against the exact inputs it saw, and explanations
// can cite the answers that produced them.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	id "controlplane/pkg/domain"
)

// AnswerSnapshot is one immutable capture of a wizard's answers.
type AnswerSnapshot struct {
	ID       id.SnapshotID
	TenantID id.TenantID
	WizardID id.WizardID
	// Version is monotonic per wizard, starting at 1.
	Version       int
	CompletedStep int
	// Answers is the raw answer payload. The engine treats it as opaque
	// here; the resolution context builder interprets it.
	Answers json.RawMessage
	// ContentHash is the hex SHA-256 of Answers, recorded so replays can
	// verify the payload was not altered after capture.
	ContentHash string
	Final       bool
	CreatedBy   string
	CreatedAt   time.Time
}

// HashAnswers returns the hex SHA-256 digest of an answers payload.
func HashAnswers(answers json.RawMessage) string {
	sum := sha256.Sum256(answers)
	return hex.EncodeToString(sum[:])
}
