// Package interaction defines the persisted conversation state that carries a
// chat-driven record creation across turns. The message handler is invoked
// once per inbound message and keeps no process memory; an Interaction row is
// the only thing that survives between turns.
package interaction

import (
	"encoding/json"
	"time"
)

// Kind identifies what the conversation is trying to accomplish.
type Kind string

const (
	// Record-creation kinds (slot-filling, confirmation, commit).
	KindRawMaterial      Kind = "raw-material"
	KindSupplier         Kind = "supplier"
	KindFeedFormula      Kind = "feed-formula"
	KindPurchase         Kind = "purchase"
	KindManufacturingRun Kind = "manufacturing-run"

	// Single-turn query kinds (answered directly, no confirmation).
	KindAlertQuery     Kind = "alert-query"
	KindInventoryQuery Kind = "inventory-query"
	KindListQuery      Kind = "list-query"

	// KindUnknown means the classifier could not determine intent.
	KindUnknown Kind = "unknown"
)

// CreationKinds is the closed set of record-creation kinds.
var CreationKinds = []Kind{
	KindRawMaterial,
	KindSupplier,
	KindFeedFormula,
	KindPurchase,
	KindManufacturingRun,
}

// IsCreation reports whether k is a record-creation kind.
func (k Kind) IsCreation() bool {
	for _, c := range CreationKinds {
		if k == c {
			return true
		}
	}
	return false
}

// IsQuery reports whether k is a single-turn query kind.
func (k Kind) IsQuery() bool {
	return k == KindAlertQuery || k == KindInventoryQuery || k == KindListQuery
}

// Status is the logical dialogue state of an Interaction.
type Status string

const (
	StatusNew                   Status = "NEW"
	StatusAwaitingMoreData      Status = "AWAITING_MORE_DATA"
	StatusAwaitingSiteSelection Status = "AWAITING_SITE_SELECTION"
	StatusAwaitingConfirmation  Status = "AWAITING_CONFIRMATION"
	StatusAwaitingModification  Status = "AWAITING_MODIFICATION"
	StatusCommitted             Status = "COMMITTED"
	StatusCancelled             Status = "CANCELLED"
	StatusFailed                Status = "FAILED"
)

// Terminal reports whether the status ends the Interaction's lifecycle.
// Terminal Interactions are never mutated again.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusCancelled || s == StatusFailed
}

// legacyFallback maps each status introduced after the initial schema to the
// nearest status the initial CHECK constraint accepts. When the physical
// schema rejects a status (migration not yet applied), the store writes the
// fallback and records the true status in Payload.PendingStatus.
var legacyFallback = map[Status]Status{
	StatusAwaitingSiteSelection: StatusAwaitingMoreData,
	StatusAwaitingModification:  StatusAwaitingMoreData,
}

// SiteOption is one entry of the site list offered to the operator when the
// farm has several sites and none was identifiable from the message.
type SiteOption struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Payload is the schema-free cross-turn blob attached to an Interaction.
//
// The per-kind record data lives in Record as an opaque JSON document whose
// shape is determined solely by the Interaction's Kind tag: it is decoded
// into the explicit struct for that kind, never by shape-sniffing.
type Payload struct {
	// PendingStatus carries the true logical status when the physical schema
	// could not store it. When set, it is authoritative over the stored
	// status column.
	PendingStatus Status `json:"pending_status,omitempty"`

	// OriginalText is the message that triggered the Interaction. Kept so
	// extraction can re-run against it after a site selection turn.
	OriginalText string `json:"original_text,omitempty"`

	// SitesOffered is the candidate-site list sent to the operator while the
	// Interaction awaits a site selection.
	SitesOffered []SiteOption `json:"sites_offered,omitempty"`

	// SiteID / SiteName identify the resolved site, once known.
	SiteID   string `json:"site_id,omitempty"`
	SiteName string `json:"site_name,omitempty"`

	// Fields accumulates candidate fields across turns. Values merge
	// monotonically: a later turn only replaces a key it explicitly supplies.
	Fields map[string]any `json:"fields,omitempty"`

	// Record holds the normalized per-kind record, encoded from the explicit
	// struct for the Interaction's kind.
	Record json.RawMessage `json:"record,omitempty"`

	// Warnings, Missing and Errors hold the latest normalization and
	// validation verdict, re-computed every turn that advances the data.
	Warnings []string `json:"warnings,omitempty"`
	Missing  []string `json:"missing,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// MergeFields merges newly extracted candidate fields over the accumulated
// ones. New non-nil values win; keys absent from the update are preserved.
func (p *Payload) MergeFields(update map[string]any) {
	if len(update) == 0 {
		return
	}
	if p.Fields == nil {
		p.Fields = make(map[string]any, len(update))
	}
	for k, v := range update {
		if v == nil {
			continue
		}
		p.Fields[k] = v
	}
}

// Interaction is the persisted record of one conversation-driven attempt.
type Interaction struct {
	ID               string
	UserID           string
	FarmID           string // empty until resolved
	Kind             Kind
	Status           Status
	ReceivedText     string
	Payload          Payload
	CreatedRecordRef string
	ErrorDetail      string
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

// EffectiveStatus returns the logical status, honouring the PendingStatus
// side flag written when the physical schema lagged behind the state machine.
func (i *Interaction) EffectiveStatus() Status {
	if i.Payload.PendingStatus != "" {
		return i.Payload.PendingStatus
	}
	return i.Status
}
