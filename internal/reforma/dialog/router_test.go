package dialog_test

import (
	"context"
	"os"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/catalog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/commit"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/dialog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/nlp"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/normalize"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/store"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/validate"
)

const operatorMXID = "@pedro:farm.example"

// stubProvider is a mutable scripted NLP provider: tests set the next
// classification and extraction results between turns.
type stubProvider struct {
	kind       interaction.Kind
	confidence float64
	fields     map[string]any

	classifyErr error
	extractErr  error
}

func (p *stubProvider) ClassifyIntent(ctx context.Context, text string) (*nlp.IntentResult, error) {
	if p.classifyErr != nil {
		return nil, p.classifyErr
	}
	return &nlp.IntentResult{Kind: p.kind, Confidence: p.confidence}, nil
}

func (p *stubProvider) ExtractFields(ctx context.Context, text string, kind interaction.Kind) (*nlp.Extraction, error) {
	if p.extractErr != nil {
		return nil, p.extractErr
	}
	return &nlp.Extraction{Fields: p.fields, Confidence: 1}, nil
}

type stubExecutor struct {
	calls int
	err   error
	ref   string
}

func (e *stubExecutor) Commit(ctx context.Context, req commit.Request) (*commit.Result, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	ref := e.ref
	if ref == "" {
		ref = "rec-1"
	}
	return &commit.Result{RecordRef: ref}, nil
}

// newTestRouter opens a temp database seeded with one farm, the given sites
// and a registered operator, and wires a Router around the stubs.
func newTestRouter(t *testing.T, p *stubProvider, e *stubExecutor, siteNames ...string) (*dialog.Router, *interaction.Store) {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "dialog-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()

	st, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	db := st.DB()
	mustExec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.Exec(query, args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	mustExec(`INSERT INTO farms (id, name) VALUES ('farm-1', 'Granja Demo')`)
	mustExec(`INSERT INTO operators (mxid, user_id, farm_id, display_name) VALUES (?, 'user-1', 'farm-1', 'Pedro')`, operatorMXID)
	for i, name := range siteNames {
		mustExec(`INSERT INTO sites (id, farm_id, name, position) VALUES (?, 'farm-1', ?, ?)`,
			"site-"+name, name, i+1)
	}

	reader := catalog.NewReader(db, nil)
	interactions := interaction.NewStore(db)
	router := dialog.NewRouter(dialog.Deps{
		DB:           st,
		Interactions: interactions,
		Catalog:      reader,
		Provider:     p,
		Normalizer:   normalize.New(reader, normalize.Config{}),
		Validator:    validate.New(reader),
		Executor:     e,
	}, dialog.Config{})

	return router, interactions
}

func openInteraction(t *testing.T, s *interaction.Store) *interaction.Interaction {
	t.Helper()
	it, err := s.FindOpen(context.Background(), "user-1", nil, dialog.DefaultFreshnessWindow)
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	return it
}

func lastInteraction(t *testing.T, s *interaction.Store, id string) *interaction.Interaction {
	t.Helper()
	it, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return it
}

func TestUnknownSenderIsRejected(t *testing.T) {
	router, _ := newTestRouter(t, &stubProvider{}, &stubExecutor{}, "Planta Norte")

	reply, err := router.HandleMessage(context.Background(), "@stranger:farm.example", "hola")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != dialog.UnknownSenderMessage {
		t.Errorf("expected rejection message, got %q", reply)
	}
}

func TestCreateConfirmCommit(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"code": "maiz001", "name": "Corn"},
	}
	e := &stubExecutor{ref: "rm-77"}
	router, interactions := newTestRouter(t, p, e, "Planta Norte")
	ctx := context.Background()

	reply, err := router.HandleMessage(ctx, operatorMXID, "Create raw material Corn with code MAIZ001")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if !strings.Contains(reply, "MAIZ001") || !strings.Contains(reply, "Corn") {
		t.Errorf("expected preview naming code and name, got %q", reply)
	}

	it := openInteraction(t, interactions)
	if it == nil || it.Status != interaction.StatusAwaitingConfirmation {
		t.Fatalf("expected AWAITING_CONFIRMATION, got %+v", it)
	}

	reply, err = router.HandleMessage(ctx, operatorMXID, "yes")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if e.calls != 1 {
		t.Fatalf("expected exactly one commit, got %d", e.calls)
	}
	if !strings.Contains(reply, "rm-77") {
		t.Errorf("expected success message with record ref, got %q", reply)
	}

	done := lastInteraction(t, interactions, it.ID)
	if done.Status != interaction.StatusCommitted {
		t.Errorf("expected COMMITTED, got %q", done.Status)
	}
	if done.CreatedRecordRef != "rm-77" {
		t.Errorf("expected record ref persisted, got %q", done.CreatedRecordRef)
	}
}

func TestConfirmationIsIdempotent(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"code": "MAIZ001", "name": "Corn"},
	}
	e := &stubExecutor{}
	router, _ := newTestRouter(t, p, e, "Planta Norte")
	ctx := context.Background()

	if _, err := router.HandleMessage(ctx, operatorMXID, "crear materia prima maíz"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := router.HandleMessage(ctx, operatorMXID, "sí"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	// The replayed confirmation finds no open Interaction; it classifies
	// fresh. Make the classifier return unknown so nothing new starts.
	p.kind = interaction.KindUnknown
	p.confidence = 0
	if _, err := router.HandleMessage(ctx, operatorMXID, "sí"); err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if e.calls != 1 {
		t.Fatalf("expected replay to commit nothing, got %d commits", e.calls)
	}
}

func TestCancellationNeverCommits(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"code": "MAIZ001", "name": "Corn"},
	}
	e := &stubExecutor{}
	router, interactions := newTestRouter(t, p, e, "Planta Norte")
	ctx := context.Background()

	if _, err := router.HandleMessage(ctx, operatorMXID, "crear materia prima maíz"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	it := openInteraction(t, interactions)

	reply, err := router.HandleMessage(ctx, operatorMXID, "no")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if reply != dialog.CancelledMessage {
		t.Errorf("expected cancellation message, got %q", reply)
	}
	if e.calls != 0 {
		t.Fatalf("expected executor never invoked, got %d calls", e.calls)
	}
	if got := lastInteraction(t, interactions, it.ID); got.Status != interaction.StatusCancelled {
		t.Errorf("expected CANCELLED, got %q", got.Status)
	}
}

func TestSlotFillingAccumulatesFields(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"name": "Corn"},
	}
	router, interactions := newTestRouter(t, p, &stubExecutor{}, "Planta Norte")
	ctx := context.Background()

	reply, err := router.HandleMessage(ctx, operatorMXID, "crear materia prima Corn")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if !strings.Contains(reply, "código") {
		t.Errorf("expected missing-code message, got %q", reply)
	}
	it := openInteraction(t, interactions)
	if it.Status != interaction.StatusAwaitingMoreData {
		t.Fatalf("expected AWAITING_MORE_DATA, got %q", it.Status)
	}

	// The follow-up supplies only the code; same kind, low confidence.
	p.confidence = 0.4
	p.fields = map[string]any{"code": "C1"}
	if _, err := router.HandleMessage(ctx, operatorMXID, "el código es C1"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	got := lastInteraction(t, interactions, it.ID)
	if got.Status != interaction.StatusAwaitingConfirmation {
		t.Fatalf("expected AWAITING_CONFIRMATION after slot filling, got %q", got.Status)
	}
	if got.Payload.Fields["name"] != "Corn" || got.Payload.Fields["code"] != "C1" {
		t.Errorf("expected accumulated fields, got %v", got.Payload.Fields)
	}
}

func TestDifferentKindAbandonsOpenInteraction(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"name": "Corn"},
	}
	router, interactions := newTestRouter(t, p, &stubExecutor{}, "Planta Norte")
	ctx := context.Background()

	if _, err := router.HandleMessage(ctx, operatorMXID, "crear materia prima Corn"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	old := openInteraction(t, interactions)

	p.kind = interaction.KindSupplier
	p.fields = map[string]any{"name": "Nutrisur"}
	if _, err := router.HandleMessage(ctx, operatorMXID, "crear proveedor Nutrisur"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	current := openInteraction(t, interactions)
	if current == nil || current.ID == old.ID {
		t.Fatalf("expected a fresh interaction, got %+v", current)
	}
	if current.Kind != interaction.KindSupplier {
		t.Errorf("expected supplier kind, got %q", current.Kind)
	}
	if got := lastInteraction(t, interactions, old.ID); got.Status != interaction.StatusAwaitingMoreData {
		t.Errorf("expected abandoned interaction left as-is, got %q", got.Status)
	}
}

func TestSiteSelectionFlow(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"code": "MAIZ001", "name": "Corn"},
	}
	router, interactions := newTestRouter(t, p, &stubExecutor{}, "Plant North", "Plant South")
	ctx := context.Background()

	reply, err := router.HandleMessage(ctx, operatorMXID, "crear materia prima maíz")
	if err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if !strings.Contains(reply, "Plant North") || !strings.Contains(reply, "Plant South") {
		t.Errorf("expected site list, got %q", reply)
	}
	it := openInteraction(t, interactions)
	if it.EffectiveStatus() != interaction.StatusAwaitingSiteSelection {
		t.Fatalf("expected AWAITING_SITE_SELECTION, got %q", it.EffectiveStatus())
	}

	// Unmatchable reply re-sends the list without advancing.
	reply, err = router.HandleMessage(ctx, operatorMXID, "bananas")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if !strings.Contains(reply, "Plant South") {
		t.Errorf("expected list re-sent, got %q", reply)
	}

	reply, err = router.HandleMessage(ctx, operatorMXID, "2")
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if !strings.Contains(reply, "MAIZ001") {
		t.Errorf("expected preview after selection, got %q", reply)
	}
	got := lastInteraction(t, interactions, it.ID)
	if got.Payload.SiteName != "Plant South" {
		t.Errorf("expected Plant South resolved, got %q", got.Payload.SiteName)
	}
	if got.Status != interaction.StatusAwaitingConfirmation {
		t.Errorf("expected AWAITING_CONFIRMATION, got %q", got.Status)
	}
}

func TestModifyFlow(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"code": "MAIZ001", "name": "Corn"},
	}
	router, interactions := newTestRouter(t, p, &stubExecutor{}, "Planta Norte")
	ctx := context.Background()

	if _, err := router.HandleMessage(ctx, operatorMXID, "crear materia prima Corn MAIZ001"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	it := openInteraction(t, interactions)

	reply, err := router.HandleMessage(ctx, operatorMXID, "modificar")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if reply != dialog.ModifyPrompt {
		t.Errorf("expected modify prompt, got %q", reply)
	}

	p.fields = map[string]any{"name": "Yellow Corn"}
	reply, err = router.HandleMessage(ctx, operatorMXID, "el nombre es Yellow Corn")
	if err != nil {
		t.Fatalf("turn 3: %v", err)
	}
	if !strings.Contains(reply, "Yellow Corn") || !strings.Contains(reply, "MAIZ001") {
		t.Errorf("expected updated preview, got %q", reply)
	}
	got := lastInteraction(t, interactions, it.ID)
	if got.Payload.Fields["name"] != "Yellow Corn" {
		t.Errorf("expected overridden name, got %v", got.Payload.Fields)
	}
}

func TestCommitDomainErrorMarksFailed(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"code": "MAIZ001", "name": "Corn"},
	}
	e := &stubExecutor{err: &commit.DomainError{Field: "code", Value: "MAIZ001", Message: "ya existe"}}
	router, interactions := newTestRouter(t, p, e, "Planta Norte")
	ctx := context.Background()

	if _, err := router.HandleMessage(ctx, operatorMXID, "crear materia prima Corn MAIZ001"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	it := openInteraction(t, interactions)

	reply, err := router.HandleMessage(ctx, operatorMXID, "sí")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if !strings.Contains(reply, "MAIZ001") {
		t.Errorf("expected failure message naming the offending value, got %q", reply)
	}
	got := lastInteraction(t, interactions, it.ID)
	if got.Status != interaction.StatusFailed {
		t.Errorf("expected FAILED, got %q", got.Status)
	}
	if got.ErrorDetail == "" {
		t.Error("expected error detail preserved")
	}
}

func TestClassifierOutageLeavesInteractionUntouched(t *testing.T) {
	p := &stubProvider{classifyErr: nlp.ErrUnavailable}
	router, interactions := newTestRouter(t, p, &stubExecutor{}, "Planta Norte")

	reply, err := router.HandleMessage(context.Background(), operatorMXID, "crear materia prima maíz")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != nlp.UnavailableMessage {
		t.Errorf("expected unavailable message, got %q", reply)
	}
	if it := openInteraction(t, interactions); it != nil {
		t.Fatalf("expected no interaction persisted, got %+v", it)
	}
}

func TestUnrecognizedConfirmationReplyRemindsOptions(t *testing.T) {
	p := &stubProvider{
		kind:       interaction.KindRawMaterial,
		confidence: 0.92,
		fields:     map[string]any{"code": "MAIZ001", "name": "Corn"},
	}
	e := &stubExecutor{}
	router, interactions := newTestRouter(t, p, e, "Planta Norte")
	ctx := context.Background()

	if _, err := router.HandleMessage(ctx, operatorMXID, "crear materia prima Corn MAIZ001"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	it := openInteraction(t, interactions)

	// Same kind re-classification must not abandon the confirmation.
	reply, err := router.HandleMessage(ctx, operatorMXID, "mmm")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if !strings.Contains(reply, "confirmar") {
		t.Errorf("expected three-option reminder, got %q", reply)
	}
	if got := lastInteraction(t, interactions, it.ID); got.Status != interaction.StatusAwaitingConfirmation {
		t.Errorf("expected state unchanged, got %q", got.Status)
	}
	if e.calls != 0 {
		t.Errorf("expected no commit, got %d", e.calls)
	}
}

func TestRateLimitedSenderGetsBackoffMessage(t *testing.T) {
	p := &stubProvider{kind: interaction.KindUnknown}
	router, _ := newTestRouter(t, p, &stubExecutor{}, "Planta Norte")
	ctx := context.Background()

	var reply string
	var err error
	for i := 0; i < nlp.DefaultRateLimit+1; i++ {
		reply, err = router.HandleMessage(ctx, operatorMXID, "hola")
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	if reply != nlp.SenderRateLimitMessage {
		t.Errorf("expected sender rate-limit message, got %q", reply)
	}
}
