package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/common/trace"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/catalog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/commit"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/nlp"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/normalize"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/preview"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/store"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/validate"
)

const (
	// DefaultFreshnessWindow bounds how old an open Interaction may be and
	// still be resumed by the next message. Older ones age out passively.
	DefaultFreshnessWindow = 30 * time.Minute

	// DefaultIntentThreshold is the minimum classifier confidence for a
	// creation kind to start (or take over) an Interaction.
	DefaultIntentThreshold = 0.7
)

// Config holds the Router tunables.
type Config struct {
	FreshnessWindow time.Duration
	IntentThreshold float64
}

// Deps are the collaborators the Router composes. All are required except
// Limiter, which defaults to the standard per-sender limit when nil.
type Deps struct {
	Log          *slog.Logger
	DB           *store.Store
	Interactions *interaction.Store
	Catalog      *catalog.Reader
	Provider     nlp.Provider
	Limiter      *nlp.RateLimiter
	Normalizer   *normalize.Normalizer
	Validator    *validate.Validator
	Executor     commit.Executor
}

// Router is the dialogue state machine. It is invoked once per inbound
// message, loads the operator's open Interaction (if any), advances it, and
// returns the reply to send. It keeps no per-conversation state in memory.
type Router struct {
	log          *slog.Logger
	db           *store.Store
	interactions *interaction.Store
	catalog      *catalog.Reader
	provider     nlp.Provider
	limiter      *nlp.RateLimiter
	normalizer   *normalize.Normalizer
	validator    *validate.Validator
	executor     commit.Executor
	cfg          Config
}

// NewRouter creates a Router. Zero Config fields fall back to the defaults.
func NewRouter(deps Deps, cfg Config) *Router {
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = DefaultFreshnessWindow
	}
	if cfg.IntentThreshold <= 0 {
		cfg.IntentThreshold = DefaultIntentThreshold
	}
	if deps.Limiter == nil {
		deps.Limiter = nlp.NewRateLimiter(nlp.DefaultRateLimit, 0)
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Router{
		log:          deps.Log,
		db:           deps.DB,
		interactions: deps.Interactions,
		catalog:      deps.Catalog,
		provider:     deps.Provider,
		limiter:      deps.Limiter,
		normalizer:   deps.Normalizer,
		validator:    deps.Validator,
		executor:     deps.Executor,
		cfg:          cfg,
	}
}

// HandleMessage processes one inbound message and returns the reply text.
// A non-nil error means an unexpected internal failure; the caller still owes
// the operator a best-effort generic reply.
func (r *Router) HandleMessage(ctx context.Context, sender, text string) (string, error) {
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithTraceID(ctx, trace.GenerateID())
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	op, err := r.catalog.Operator(ctx, sender)
	if errors.Is(err, catalog.ErrUnknownOperator) {
		r.log.Warn("message from unregistered sender",
			"trace_id", trace.FromContext(ctx), "sender", sender)
		return UnknownSenderMessage, nil
	}
	if err != nil {
		return "", err
	}

	open, err := r.interactions.FindOpen(ctx, op.UserID, nil, r.cfg.FreshnessWindow)
	if err != nil {
		return "", err
	}
	if open == nil {
		return r.handleFresh(ctx, op, text)
	}

	switch open.EffectiveStatus() {
	case interaction.StatusAwaitingSiteSelection:
		return r.handleSiteSelection(ctx, op, open, text)
	case interaction.StatusAwaitingConfirmation:
		return r.handleConfirmation(ctx, op, open, text)
	case interaction.StatusAwaitingModification:
		return r.handleModification(ctx, op, open, text)
	default:
		return r.handleMoreData(ctx, op, open, text)
	}
}

// handleFresh classifies a message with no open Interaction behind it.
func (r *Router) handleFresh(ctx context.Context, op *catalog.Operator, text string) (string, error) {
	if !r.limiter.Allow(op.MXID) {
		return nlp.SenderRateLimitMessage, nil
	}
	res, err := r.provider.ClassifyIntent(ctx, text)
	if err != nil {
		return r.nlpFailureReply(ctx, err), nil
	}
	r.log.Debug("intent classified",
		"trace_id", trace.FromContext(ctx), "user_id", op.UserID,
		"kind", res.Kind, "confidence", res.Confidence)

	switch {
	case res.Kind.IsCreation() && res.Confidence >= r.cfg.IntentThreshold:
		return r.startCreation(ctx, op, res.Kind, text)
	case res.Kind.IsQuery():
		return r.answerQuery(ctx, op, res.Kind, text)
	default:
		return HelpMessage, nil
	}
}

// startCreation opens a new Interaction for a creation kind. With several
// sites and none identifiable in the message, it parks in site selection;
// otherwise it runs the extraction pipeline immediately.
func (r *Router) startCreation(ctx context.Context, op *catalog.Operator, kind interaction.Kind, text string) (string, error) {
	it := &interaction.Interaction{
		UserID:       op.UserID,
		FarmID:       op.FarmID,
		Kind:         kind,
		Status:       interaction.StatusNew,
		ReceivedText: text,
		Payload:      interaction.Payload{OriginalText: text},
	}

	sites, err := r.catalog.Sites(ctx, op.FarmID)
	if err != nil {
		return "", err
	}
	switch {
	case len(sites) == 1:
		it.Payload.SiteID, it.Payload.SiteName = sites[0].ID, sites[0].Name
	case len(sites) > 1:
		opts := siteOptions(sites)
		if m := MatchSite(text, opts); m != nil {
			it.Payload.SiteID, it.Payload.SiteName = m.ID, m.Name
		} else {
			it.Status = interaction.StatusAwaitingSiteSelection
			it.Payload.SitesOffered = opts
			if err := r.interactions.Create(ctx, it); err != nil {
				return "", err
			}
			r.audit(ctx, op, it, "interaction.create", "ok", "")
			return sitePrompt(opts), nil
		}
	}
	return r.advance(ctx, op, it, text, text)
}

// handleSiteSelection matches the reply against the offered list. No match
// re-sends the list unchanged; a match resumes extraction on the original
// triggering message, not the selection reply.
func (r *Router) handleSiteSelection(ctx context.Context, op *catalog.Operator, it *interaction.Interaction, text string) (string, error) {
	site := MatchSite(text, it.Payload.SitesOffered)
	if site == nil {
		return sitePrompt(it.Payload.SitesOffered), nil
	}
	if !r.limiter.Allow(op.MXID) {
		return nlp.SenderRateLimitMessage, nil
	}
	it.Payload.SiteID, it.Payload.SiteName = site.ID, site.Name
	it.Payload.SitesOffered = nil
	return r.advance(ctx, op, it, it.Payload.OriginalText, text)
}

// handleMoreData treats the message as supplementary data, unless it
// re-classifies confidently as a different creation kind, in which case the
// old Interaction is abandoned in place and a fresh one starts.
func (r *Router) handleMoreData(ctx context.Context, op *catalog.Operator, it *interaction.Interaction, text string) (string, error) {
	if !r.limiter.Allow(op.MXID) {
		return nlp.SenderRateLimitMessage, nil
	}
	res, err := r.provider.ClassifyIntent(ctx, text)
	if err != nil {
		return r.nlpFailureReply(ctx, err), nil
	}
	if res.Kind.IsCreation() && res.Kind != it.Kind && res.Confidence >= r.cfg.IntentThreshold {
		r.log.Info("open interaction abandoned for new kind",
			"trace_id", trace.FromContext(ctx), "interaction_id", it.ID,
			"old_kind", it.Kind, "new_kind", res.Kind)
		return r.startCreation(ctx, op, res.Kind, text)
	}
	return r.advance(ctx, op, it, text, text)
}

// handleModification re-extracts with the original kind and merges the new
// values over the accumulated ones.
func (r *Router) handleModification(ctx context.Context, op *catalog.Operator, it *interaction.Interaction, text string) (string, error) {
	if !r.limiter.Allow(op.MXID) {
		return nlp.SenderRateLimitMessage, nil
	}
	return r.advance(ctx, op, it, text, text)
}

// handleConfirmation interprets the reply to a preview. An unrecognized reply
// is given one chance to re-classify as a different creation kind before the
// three-option reminder is re-sent.
func (r *Router) handleConfirmation(ctx context.Context, op *catalog.Operator, it *interaction.Interaction, text string) (string, error) {
	switch ClassifyReply(text) {
	case ReplyAffirmative:
		return r.commitInteraction(ctx, op, it)

	case ReplyNegative:
		err := r.interactions.Complete(ctx, it.ID, it.Status, interaction.StatusCancelled, "", "")
		if errors.Is(err, interaction.ErrConflict) {
			return AlreadyResolvedMessage, nil
		}
		if err != nil {
			return "", err
		}
		r.audit(ctx, op, it, "interaction.cancel", "ok", "")
		return CancelledMessage, nil

	case ReplyModify:
		err := r.interactions.UpdateTurn(ctx, it.ID, interaction.StatusAwaitingModification, text, it.Payload)
		if errors.Is(err, interaction.ErrConflict) {
			return AlreadyResolvedMessage, nil
		}
		if err != nil {
			return "", err
		}
		return ModifyPrompt, nil

	default:
		if r.limiter.Allow(op.MXID) {
			res, err := r.provider.ClassifyIntent(ctx, text)
			if err == nil && res.Kind.IsCreation() && res.Kind != it.Kind && res.Confidence >= r.cfg.IntentThreshold {
				return r.startCreation(ctx, op, res.Kind, text)
			}
		}
		return preview.ConfirmPrompt, nil
	}
}

// commitInteraction hands the confirmed record to the executor and resolves
// the Interaction with a conditional terminal transition. A lost race aborts
// without reporting success; a domain rejection marks the Interaction FAILED
// with the offending field named in the reply.
func (r *Router) commitInteraction(ctx context.Context, op *catalog.Operator, it *interaction.Interaction) (string, error) {
	rec, err := normalize.DecodeRecord(it.Kind, it.Payload.Record)
	if err != nil {
		return "", fmt.Errorf("failed to decode confirmed record: %w", err)
	}

	result, commitErr := r.executor.Commit(ctx, commit.Request{
		Kind:   it.Kind,
		FarmID: op.FarmID,
		UserID: op.UserID,
		SiteID: it.Payload.SiteID,
		Record: rec,
	})
	if commitErr != nil {
		err := r.interactions.Complete(ctx, it.ID, it.Status, interaction.StatusFailed, "", commitErr.Error())
		if errors.Is(err, interaction.ErrConflict) {
			return AlreadyResolvedMessage, nil
		}
		if err != nil {
			return "", err
		}
		r.audit(ctx, op, it, "interaction.commit", "failed", commitErr.Error())
		return failureMessage(commitErr), nil
	}

	err = r.interactions.Complete(ctx, it.ID, it.Status, interaction.StatusCommitted, result.RecordRef, "")
	if errors.Is(err, interaction.ErrConflict) {
		r.log.Warn("commit raced with a concurrent turn",
			"trace_id", trace.FromContext(ctx), "interaction_id", it.ID)
		return AlreadyResolvedMessage, nil
	}
	if err != nil {
		return "", err
	}

	if entity, ok := createdEntity(it.Kind); ok {
		r.catalog.Invalidate(op.FarmID, entity)
	}
	r.audit(ctx, op, it, "interaction.commit", "ok", "")
	r.log.Info("record committed",
		"trace_id", trace.FromContext(ctx), "interaction_id", it.ID,
		"kind", it.Kind, "record_ref", result.RecordRef)
	return successMessage(it.Kind, result.RecordRef), nil
}

// advance runs Extractor, Normalizer and Validator over the Interaction and
// persists the outcome: AWAITING_CONFIRMATION with a preview when valid,
// AWAITING_MORE_DATA with the missing/error list otherwise.
func (r *Router) advance(ctx context.Context, op *catalog.Operator, it *interaction.Interaction, extractionText, receivedText string) (string, error) {
	ext, err := r.provider.ExtractFields(ctx, extractionText, it.Kind)
	if err != nil {
		return r.nlpFailureReply(ctx, err), nil
	}
	it.Payload.MergeFields(ext.Fields)

	res, err := r.normalizer.Normalize(ctx, op.FarmID, it.Kind, it.Payload.Fields)
	if err != nil {
		return "", err
	}
	verdict, err := r.validator.Validate(ctx, op.FarmID, res.Record, res.SoftErrors)
	if err != nil {
		return "", err
	}

	raw, err := normalize.EncodeRecord(res.Record)
	if err != nil {
		return "", err
	}
	it.Payload.Record = raw
	it.Payload.Warnings = res.Warnings
	it.Payload.Missing = verdict.Missing
	it.Payload.Errors = verdict.Errors

	var reply string
	if verdict.Valid {
		it.Status = interaction.StatusAwaitingConfirmation
		reply = preview.Render(res.Record, it.Payload.SiteName, res.Warnings)
	} else {
		it.Status = interaction.StatusAwaitingMoreData
		reply = missingDataMessage(it.Kind, verdict)
	}

	if it.ID == "" {
		if err := r.interactions.Create(ctx, it); err != nil {
			return "", err
		}
		r.audit(ctx, op, it, "interaction.create", "ok", "")
	} else {
		err := r.interactions.UpdateTurn(ctx, it.ID, it.Status, receivedText, it.Payload)
		if errors.Is(err, interaction.ErrConflict) {
			return AlreadyResolvedMessage, nil
		}
		if err != nil {
			return "", err
		}
	}

	r.log.Debug("turn advanced",
		"trace_id", trace.FromContext(ctx), "interaction_id", it.ID,
		"kind", it.Kind, "status", it.Status, "valid", verdict.Valid)
	return reply, nil
}

// answerQuery resolves a single-turn query and records it as an already
// committed Interaction.
func (r *Router) answerQuery(ctx context.Context, op *catalog.Operator, kind interaction.Kind, text string) (string, error) {
	var reply string
	switch kind {
	case interaction.KindAlertQuery:
		alerts, err := r.catalog.Alerts(ctx, op.FarmID)
		if err != nil {
			return "", err
		}
		reply = renderAlerts(alerts)
	case interaction.KindInventoryQuery:
		stock, err := r.catalog.Stock(ctx, op.FarmID)
		if err != nil {
			return "", err
		}
		reply = renderStock(stock)
	case interaction.KindListQuery:
		entity := listTarget(text)
		refs, err := r.catalog.Refs(ctx, op.FarmID, entity)
		if err != nil {
			return "", err
		}
		reply = renderList(entity, refs)
	default:
		return HelpMessage, nil
	}

	it := &interaction.Interaction{
		UserID:       op.UserID,
		FarmID:       op.FarmID,
		Kind:         kind,
		Status:       interaction.StatusCommitted,
		ReceivedText: text,
	}
	if err := r.interactions.Create(ctx, it); err != nil {
		return "", err
	}
	return reply, nil
}

// listTarget picks the entity family a list query is about.
func listTarget(text string) catalog.Entity {
	folded := foldText(text)
	switch {
	case strings.Contains(folded, "proveedor"):
		return catalog.EntitySupplier
	case strings.Contains(folded, "formula"):
		return catalog.EntityFeedFormula
	case strings.Contains(folded, "animal"):
		return catalog.EntityAnimalType
	default:
		return catalog.EntityRawMaterial
	}
}

// nlpFailureReply maps a completion-service failure to its user message. The
// Interaction is left untouched; the operator can simply retry the turn.
func (r *Router) nlpFailureReply(ctx context.Context, err error) string {
	r.log.Warn("completion service failure",
		"trace_id", trace.FromContext(ctx), "error", err)
	if errors.Is(err, nlp.ErrRateLimit) {
		return nlp.APIRateLimitMessage
	}
	return nlp.UnavailableMessage
}

// audit writes a best-effort audit entry; failures are logged, never fatal.
func (r *Router) audit(ctx context.Context, op *catalog.Operator, it *interaction.Interaction, action, result, errMsg string) {
	payload := store.AuditPayload{"kind": string(it.Kind), "status": string(it.Status)}
	if err := r.db.WriteAudit(ctx, trace.FromContext(ctx), op.MXID, action, it.ID, result, payload, errMsg); err != nil {
		r.log.Warn("failed to write audit entry",
			"trace_id", trace.FromContext(ctx), "error", err)
	}
}

// createdEntity maps a creation kind to the catalog family it grows.
func createdEntity(kind interaction.Kind) (catalog.Entity, bool) {
	switch kind {
	case interaction.KindRawMaterial:
		return catalog.EntityRawMaterial, true
	case interaction.KindSupplier:
		return catalog.EntitySupplier, true
	case interaction.KindFeedFormula:
		return catalog.EntityFeedFormula, true
	default:
		return "", false
	}
}

func siteOptions(sites []catalog.Site) []interaction.SiteOption {
	opts := make([]interaction.SiteOption, len(sites))
	for i, s := range sites {
		opts[i] = interaction.SiteOption{ID: s.ID, Name: s.Name, Position: s.Position}
	}
	return opts
}
