package interaction_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/store"
)

// newTestStore opens a temporary SQLite database with all migrations applied
// and returns an interaction.Store backed by it.
func newTestStore(t *testing.T) *interaction.Store {
	t.Helper()
	return newTestStoreUpTo(t, 0)
}

// newTestStoreUpTo pins the schema at a migration version so tests can
// exercise behaviour against a partially migrated database.
func newTestStoreUpTo(t *testing.T, version int) *interaction.Store {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "interaction-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()

	s, err := store.NewUpTo(f.Name(), version)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return interaction.NewStore(s.DB())
}

func newInteraction(userID string) *interaction.Interaction {
	return &interaction.Interaction{
		UserID:       userID,
		FarmID:       "farm-1",
		Kind:         interaction.KindRawMaterial,
		Status:       interaction.StatusAwaitingMoreData,
		ReceivedText: "crear materia prima maíz",
		Payload: interaction.Payload{
			OriginalText: "crear materia prima maíz",
			Fields:       map[string]any{"name": "maíz"},
		},
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newInteraction("user-1")
	if err := s.Create(ctx, it); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if it.ID == "" {
		t.Error("expected generated ID")
	}

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Kind != interaction.KindRawMaterial {
		t.Errorf("expected kind raw-material, got %q", got.Kind)
	}
	if got.Status != interaction.StatusAwaitingMoreData {
		t.Errorf("expected status AWAITING_MORE_DATA, got %q", got.Status)
	}
	if got.Payload.Fields["name"] != "maíz" {
		t.Errorf("expected payload field to round-trip, got %v", got.Payload.Fields)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, interaction.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindOpenReturnsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := newInteraction("user-1")
	older.CreatedAt = time.Now().Add(-5 * time.Minute)
	if err := s.Create(ctx, older); err != nil {
		t.Fatalf("Create older: %v", err)
	}

	newer := newInteraction("user-1")
	newer.Kind = interaction.KindSupplier
	if err := s.Create(ctx, newer); err != nil {
		t.Fatalf("Create newer: %v", err)
	}

	got, err := s.FindOpen(ctx, "user-1", nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	if got == nil || got.ID != newer.ID {
		t.Fatalf("expected the most recent open interaction, got %+v", got)
	}
}

func TestFindOpenBreaksCreationTimeTies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Now().Add(-time.Minute)

	// Insert the tie-winning row first so the result cannot depend on
	// insertion order.
	second := newInteraction("user-1")
	second.ID = "b0000000-0000-0000-0000-000000000000"
	second.CreatedAt = at
	if err := s.Create(ctx, second); err != nil {
		t.Fatalf("Create second: %v", err)
	}

	first := newInteraction("user-1")
	first.ID = "a0000000-0000-0000-0000-000000000000"
	first.CreatedAt = at
	if err := s.Create(ctx, first); err != nil {
		t.Fatalf("Create first: %v", err)
	}

	got, err := s.FindOpen(ctx, "user-1", nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	if got == nil || got.ID != second.ID {
		t.Fatalf("expected deterministic tie-break on id, got %+v", got)
	}
}

func TestFindOpenIgnoresAgedOutAndTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := newInteraction("user-1")
	stale.CreatedAt = time.Now().Add(-2 * time.Hour)
	if err := s.Create(ctx, stale); err != nil {
		t.Fatalf("Create stale: %v", err)
	}

	done := newInteraction("user-1")
	done.Status = interaction.StatusCancelled
	if err := s.Create(ctx, done); err != nil {
		t.Fatalf("Create cancelled: %v", err)
	}

	got, err := s.FindOpen(ctx, "user-1", nil, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no open interaction, got %+v", got)
	}
}

func TestFindOpenKindFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newInteraction("user-1")
	if err := s.Create(ctx, it); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.FindOpen(ctx, "user-1", []interaction.Kind{interaction.KindSupplier}, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no supplier interaction, got %+v", got)
	}

	got, err = s.FindOpen(ctx, "user-1", interaction.CreationKinds, 30*time.Minute)
	if err != nil {
		t.Fatalf("FindOpen: %v", err)
	}
	if got == nil || got.ID != it.ID {
		t.Fatalf("expected the raw-material interaction, got %+v", got)
	}
}

func TestUpdateTurn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newInteraction("user-1")
	if err := s.Create(ctx, it); err != nil {
		t.Fatalf("Create: %v", err)
	}

	it.Payload.Fields["code"] = "MAIZ001"
	err := s.UpdateTurn(ctx, it.ID, interaction.StatusAwaitingConfirmation, "el código es MAIZ001", it.Payload)
	if err != nil {
		t.Fatalf("UpdateTurn: %v", err)
	}

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != interaction.StatusAwaitingConfirmation {
		t.Errorf("expected AWAITING_CONFIRMATION, got %q", got.Status)
	}
	if got.ReceivedText != "el código es MAIZ001" {
		t.Errorf("expected received text refreshed, got %q", got.ReceivedText)
	}
	if got.Payload.Fields["code"] != "MAIZ001" {
		t.Errorf("expected merged field persisted, got %v", got.Payload.Fields)
	}
}

func TestUpdateTurnRefusesTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newInteraction("user-1")
	if err := s.Create(ctx, it); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Complete(ctx, it.ID, it.Status, interaction.StatusCancelled, "", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	err := s.UpdateTurn(ctx, it.ID, interaction.StatusAwaitingMoreData, "más datos", it.Payload)
	if !errors.Is(err, interaction.ErrConflict) {
		t.Fatalf("expected ErrConflict updating a terminal interaction, got %v", err)
	}
}

func TestCompleteIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newInteraction("user-1")
	it.Status = interaction.StatusAwaitingConfirmation
	if err := s.Create(ctx, it); err != nil {
		t.Fatalf("Create: %v", err)
	}

	err := s.Complete(ctx, it.ID, interaction.StatusAwaitingConfirmation, interaction.StatusCommitted, "rec-42", "")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	// A replayed confirmation finds the status changed and must abort.
	err = s.Complete(ctx, it.ID, interaction.StatusAwaitingConfirmation, interaction.StatusCommitted, "rec-43", "")
	if !errors.Is(err, interaction.ErrConflict) {
		t.Fatalf("expected ErrConflict on replay, got %v", err)
	}

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CreatedRecordRef != "rec-42" {
		t.Errorf("expected first commit's record ref preserved, got %q", got.CreatedRecordRef)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at set")
	}
}

func TestLegacySchemaStatusFallback(t *testing.T) {
	// Migration 0001 only accepts the original status set; the newer states
	// must be downgraded with the true status kept in the payload.
	s := newTestStoreUpTo(t, 1)
	ctx := context.Background()

	it := newInteraction("user-1")
	it.Status = interaction.StatusAwaitingSiteSelection
	it.Payload.SitesOffered = []interaction.SiteOption{{ID: "site-1", Name: "Planta Norte", Position: 1}}
	if err := s.Create(ctx, it); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != interaction.StatusAwaitingMoreData {
		t.Errorf("expected stored status downgraded to AWAITING_MORE_DATA, got %q", got.Status)
	}
	if got.EffectiveStatus() != interaction.StatusAwaitingSiteSelection {
		t.Errorf("expected effective status AWAITING_SITE_SELECTION, got %q", got.EffectiveStatus())
	}
	if len(got.Payload.SitesOffered) != 1 {
		t.Errorf("expected offered sites to survive the fallback, got %v", got.Payload.SitesOffered)
	}
}

func TestCurrentSchemaStoresNewStatusesDirectly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	it := newInteraction("user-1")
	it.Status = interaction.StatusAwaitingModification
	if err := s.Create(ctx, it); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != interaction.StatusAwaitingModification {
		t.Errorf("expected status stored directly, got %q", got.Status)
	}
	if got.Payload.PendingStatus != "" {
		t.Errorf("expected no pending-status flag, got %q", got.Payload.PendingStatus)
	}
}

func TestMergeFields(t *testing.T) {
	p := interaction.Payload{}
	p.MergeFields(map[string]any{"name": "Corn"})
	p.MergeFields(map[string]any{"code": "C1", "name": nil})
	if p.Fields["name"] != "Corn" || p.Fields["code"] != "C1" {
		t.Fatalf("expected {name: Corn, code: C1}, got %v", p.Fields)
	}

	p.MergeFields(map[string]any{"name": "Yellow Corn"})
	if p.Fields["name"] != "Yellow Corn" || p.Fields["code"] != "C1" {
		t.Fatalf("expected re-supplied name to win, got %v", p.Fields)
	}
}
