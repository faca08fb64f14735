// Package nlp provides the language-model layer of the chat intake pipeline.
//
// It has exactly two responsibilities: classify a free-form message into one
// of the known command kinds, and extract candidate record fields for a
// kind. Everything downstream (normalization, validation, confirmation) is
// deterministic and never consults the model.
//
// Invariants:
//   - The model only proposes data; it never commits records.
//   - Codes and names are extracted verbatim, never re-cased or paraphrased.
//   - An upstream outage is surfaced as a distinguishable error, never
//     silently mapped to "no intent found".
//   - Rate limiting bounds token spend per sender.
package nlp

import (
	"context"
	"errors"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

// ErrUnavailable is returned when the completion service rejects the call for
// reasons unrelated to the message content: quota exhaustion, invalid
// credentials, or a server-side failure. Callers must surface a user-visible
// message and leave the Interaction untouched; this is never the same thing
// as a low-confidence classification.
var ErrUnavailable = errors.New("nlp: completion service unavailable")

// ErrRateLimit is returned when the upstream API reports HTTP 429. The
// message was understood but cannot be processed this turn; callers must not
// retry in a loop.
var ErrRateLimit = errors.New("nlp: upstream rate limit exceeded")

// ErrMalformedOutput is returned when the model answers with something that
// cannot be interpreted as the requested JSON document.
var ErrMalformedOutput = errors.New("nlp: malformed response from model")

// IntentResult is the output of a classification call.
type IntentResult struct {
	// Kind is one of the known command kinds, or interaction.KindUnknown.
	Kind interaction.Kind `json:"kind"`
	// Confidence is the model's certainty in [0, 1]. The router treats a
	// creation kind at or above the configured threshold as a definite new
	// command even when an older Interaction is open.
	Confidence float64 `json:"confidence"`
	// Rationale is a one-sentence explanation of the decision, kept for the
	// audit trail.
	Rationale string `json:"rationale,omitempty"`
}

// Extraction is the output of a field-extraction call.
type Extraction struct {
	// Fields maps template field names to candidate values as the model read
	// them from the message. Absent and null entries mean "not supplied".
	Fields map[string]any
	// Confidence is the fraction of the kind's required fields that are
	// non-null in Fields. A legitimate "found nothing" is an empty map with
	// confidence 0, which is not an error.
	Confidence float64
}

// Provider is the completion-service boundary consumed by the dialogue
// router. Implementations must be safe for concurrent use.
type Provider interface {
	// ClassifyIntent maps a raw message to a command kind and confidence.
	ClassifyIntent(ctx context.Context, text string) (*IntentResult, error)

	// ExtractFields extracts the kind's candidate fields from the message.
	ExtractFields(ctx context.Context, text string, kind interaction.Kind) (*Extraction, error)
}

// SenderRateLimitMessage is sent to operators who exceed the per-minute call
// limit before any model call is attempted.
const SenderRateLimitMessage = "⏳ Estoy procesando demasiados mensajes tuyos ahora mismo. Probá de nuevo en un momento."

// UnavailableMessage is sent when the completion service itself is down or
// out of quota.
const UnavailableMessage = "⚠️ El asistente no está disponible en este momento. Tu mensaje no se procesó; intentá de nuevo más tarde."

// APIRateLimitMessage is sent when the upstream provider throttles us
// globally.
const APIRateLimitMessage = "⏳ El asistente está temporalmente saturado. Intentá de nuevo en unos minutos."
