// Package commit is the boundary to the record-creation operations. The
// dialogue core never applies business rules itself; once a record is
// confirmed it is handed to an Executor exactly once.
package commit

import (
	"context"
	"fmt"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/normalize"
)

// Request carries one confirmed record to the executor.
type Request struct {
	Kind   interaction.Kind
	FarmID string
	UserID string
	SiteID string
	Record normalize.Record
}

// Result identifies the created record.
type Result struct {
	// RecordRef is the downstream identifier of the created record.
	RecordRef string
}

// DomainError is a business-rule rejection from the creation operation
// (e.g. duplicate natural key). Field and Value name the offending data so
// the user-facing failure message can point at it.
type DomainError struct {
	Field   string
	Value   string
	Message string
}

func (e *DomainError) Error() string {
	if e.Field != "" && e.Value != "" {
		return fmt.Sprintf("%s (%s=%s)", e.Message, e.Field, e.Value)
	}
	return e.Message
}

// Executor commits a confirmed record. Implementations must be safe for
// concurrent use; the caller guarantees at most one Commit per Interaction.
type Executor interface {
	Commit(ctx context.Context, req Request) (*Result, error)
}
