// Package tailoring handles tenant adjustments to a materialized control
// set. Tailoring is a side channel of resolution: decisions supersede
// control set entries but never feed back into the resolution state machine.
package tailoring

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	id "controlplane/pkg/domain"
)

// DecisionType is what the tenant chose to do with a control.
type DecisionType string

const (
	DecisionAccept     DecisionType = "accept"
	DecisionModify     DecisionType = "modify"
	DecisionRemove     DecisionType = "remove"
	DecisionCompensate DecisionType = "compensate"
)

// Decision is one tailoring decision applied to a control set entry.
type Decision struct {
	ID       id.DecisionID
	TenantID id.TenantID
	// EntryID is the baseline control set entry the decision applies to.
	EntryID       id.EntryID
	Type          DecisionType
	Justification string
	// CompensatingControl is the catalog code of the substitute control.
	// Required for DecisionCompensate.
	CompensatingControl string
	// ModifiedAspects carries aspect replacements for DecisionModify.
	ModifiedAspects map[string]string
	Approver        string
	// Hash is the idempotency key over the decision's content. Replaying
	// the same decision returns the existing effective entry.
	Hash      string
	DecidedAt time.Time
}

// ContentHash computes the idempotency hash over everything that makes two
// decisions "the same": type, justification, compensating reference and the
// modified aspects in sorted order.
func (d Decision) ContentHash() string {
	h := sha256.New()
	h.Write([]byte(string(d.Type)))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(d.Justification)))
	h.Write([]byte{0})
	h.Write([]byte(d.CompensatingControl))

	keys := make([]string, 0, len(d.ModifiedAspects))
	for k := range d.ModifiedAspects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(d.ModifiedAspects[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
