package normalize

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/catalog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

// DefaultMaxPlausibleBatches is the heuristic ceiling for a manufacturing
// quantity expressed in batches. Operators sometimes type the produced mass
// in kilograms instead; anything above this is reinterpreted as kg.
const DefaultMaxPlausibleBatches = 100.0

// Config holds the normalization tunables.
type Config struct {
	// CanonicalTotalKg is the mass a formula's lines must sum to.
	CanonicalTotalKg float64
	// TotalEpsilonKg is the negligible deviation from the canonical total.
	TotalEpsilonKg float64
	// MaxPlausibleBatches is the threshold above which a manufacturing
	// quantity is treated as kilograms rather than batches.
	MaxPlausibleBatches float64
}

// DefaultConfig returns the documented normalization defaults.
func DefaultConfig() Config {
	return Config{
		CanonicalTotalKg:    DefaultCanonicalTotalKg,
		TotalEpsilonKg:      DefaultTotalEpsilonKg,
		MaxPlausibleBatches: DefaultMaxPlausibleBatches,
	}
}

// Result carries a normalized record together with the soft errors and
// warnings produced while building it. Soft errors flow into validation;
// they never abort normalization.
type Result struct {
	Record     Record
	SoftErrors []string
	Warnings   []string
}

// Normalizer canonicalizes candidate fields and resolves human references
// against the tenant's catalog.
type Normalizer struct {
	catalog *catalog.Reader
	cfg     Config
	now     func() time.Time
}

// New creates a Normalizer. Zero Config fields fall back to the defaults.
func New(reader *catalog.Reader, cfg Config) *Normalizer {
	def := DefaultConfig()
	if cfg.CanonicalTotalKg <= 0 {
		cfg.CanonicalTotalKg = def.CanonicalTotalKg
	}
	if cfg.TotalEpsilonKg <= 0 {
		cfg.TotalEpsilonKg = def.TotalEpsilonKg
	}
	if cfg.MaxPlausibleBatches <= 0 {
		cfg.MaxPlausibleBatches = def.MaxPlausibleBatches
	}
	return &Normalizer{catalog: reader, cfg: cfg, now: time.Now}
}

// Normalize builds the kind's record variant from the accumulated candidate
// fields, scoped to the farm. The returned error is reserved for
// infrastructure failures (catalog reads); data problems are soft errors.
func (n *Normalizer) Normalize(ctx context.Context, farmID string, kind interaction.Kind, fields map[string]any) (*Result, error) {
	switch kind {
	case interaction.KindRawMaterial:
		return n.normalizeRawMaterial(fields), nil
	case interaction.KindSupplier:
		return n.normalizeSupplier(fields), nil
	case interaction.KindFeedFormula:
		return n.normalizeFormula(ctx, farmID, fields)
	case interaction.KindPurchase:
		return n.normalizePurchase(ctx, farmID, fields)
	case interaction.KindManufacturingRun:
		return n.normalizeRun(ctx, farmID, fields)
	default:
		return nil, fmt.Errorf("normalize: kind %q is not a record-creation kind", kind)
	}
}

func (n *Normalizer) normalizeRawMaterial(fields map[string]any) *Result {
	res := &Result{}
	rec := RawMaterialRecord{
		Code:        canonicalCode(stringField(fields, "code")),
		Name:        strings.TrimSpace(stringField(fields, "name")),
		Description: strings.TrimSpace(stringField(fields, "description")),
	}
	if v, ok, softErr := numberField(fields, "min_stock_kg"); softErr != "" {
		res.SoftErrors = append(res.SoftErrors, softErr)
	} else if ok {
		rec.MinStockKg = v
	}
	res.Record = rec
	return res
}

func (n *Normalizer) normalizeSupplier(fields map[string]any) *Result {
	return &Result{Record: SupplierRecord{
		Code:  canonicalCode(stringField(fields, "code")),
		Name:  strings.TrimSpace(stringField(fields, "name")),
		Phone: strings.TrimSpace(stringField(fields, "phone")),
		Email: strings.TrimSpace(stringField(fields, "email")),
	}}
}

func (n *Normalizer) normalizeFormula(ctx context.Context, farmID string, fields map[string]any) (*Result, error) {
	res := &Result{}
	rec := FormulaRecord{
		Code:       canonicalCode(stringField(fields, "code")),
		Name:       strings.TrimSpace(stringField(fields, "name")),
		AnimalType: strings.TrimSpace(stringField(fields, "animal_type")),
	}

	if rec.AnimalType != "" {
		ref, err := n.catalog.Lookup(ctx, farmID, catalog.EntityAnimalType, rec.AnimalType)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			res.SoftErrors = append(res.SoftErrors,
				fmt.Sprintf("Tipo de animal %q no encontrado.", rec.AnimalType))
		} else {
			rec.AnimalTypeID = ref.ID
			rec.AnimalTypeName = ref.Name
		}
	}

	lines, softErrs, err := n.normalizeLines(ctx, farmID, fields["lines"])
	if err != nil {
		return nil, err
	}
	res.SoftErrors = append(res.SoftErrors, softErrs...)

	lines, warning := rebalanceLines(lines, n.cfg.CanonicalTotalKg, n.cfg.TotalEpsilonKg)
	if warning != "" {
		res.Warnings = append(res.Warnings, warning)
	}
	rec.Lines = lines

	res.Record = rec
	return res, nil
}

// normalizeLines resolves each ingredient reference against the raw-material
// catalog. Unresolved ingredients keep their line (quantity intact) so the
// rebalance stays meaningful, and add a soft error.
func (n *Normalizer) normalizeLines(ctx context.Context, farmID string, raw any) ([]FormulaLine, []string, error) {
	items, ok := raw.([]any)
	if !ok || len(items) == 0 {
		return nil, nil, nil
	}

	var lines []FormulaLine
	var softErrs []string
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		line := FormulaLine{
			Ingredient: strings.TrimSpace(stringField(entry, "ingredient")),
		}
		if qty, ok, softErr := numberField(entry, "quantity_kg"); softErr != "" {
			softErrs = append(softErrs, softErr)
		} else if ok {
			line.QuantityKg = qty
		}
		if line.Ingredient == "" && line.QuantityKg == 0 {
			continue
		}

		ref, err := n.catalog.Lookup(ctx, farmID, catalog.EntityRawMaterial, line.Ingredient)
		if err != nil {
			return nil, nil, err
		}
		if ref == nil {
			softErrs = append(softErrs,
				fmt.Sprintf("Materia prima %q no encontrada.", line.Ingredient))
		} else {
			line.MaterialID = ref.ID
			line.MaterialCode = ref.Code
			line.MaterialName = ref.Name
		}
		lines = append(lines, line)
	}
	return lines, softErrs, nil
}

func (n *Normalizer) normalizePurchase(ctx context.Context, farmID string, fields map[string]any) (*Result, error) {
	res := &Result{}
	rec := PurchaseRecord{
		Supplier: strings.TrimSpace(stringField(fields, "supplier")),
		Material: strings.TrimSpace(stringField(fields, "material")),
		Date:     strings.TrimSpace(stringField(fields, "date")),
	}

	if rec.Supplier != "" {
		ref, err := n.catalog.Lookup(ctx, farmID, catalog.EntitySupplier, rec.Supplier)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			res.SoftErrors = append(res.SoftErrors,
				fmt.Sprintf("Proveedor %q no encontrado.", rec.Supplier))
		} else {
			rec.SupplierID = ref.ID
			rec.SupplierCode = ref.Code
			rec.SupplierName = ref.Name
		}
	}

	if rec.Material != "" {
		ref, err := n.catalog.Lookup(ctx, farmID, catalog.EntityRawMaterial, rec.Material)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			res.SoftErrors = append(res.SoftErrors,
				fmt.Sprintf("Materia prima %q no encontrada.", rec.Material))
		} else {
			rec.MaterialID = ref.ID
			rec.MaterialCode = ref.Code
			rec.MaterialName = ref.Name
		}
	}

	if v, ok, softErr := numberField(fields, "quantity_kg"); softErr != "" {
		res.SoftErrors = append(res.SoftErrors, softErr)
	} else if ok {
		rec.QuantityKg = v
	}
	if v, ok, softErr := numberField(fields, "unit_price"); softErr != "" {
		res.SoftErrors = append(res.SoftErrors, softErr)
	} else if ok {
		rec.UnitPrice = v
	}

	if rec.Date != "" {
		if t, ok := ParseDate(rec.Date, n.now()); ok {
			rec.DateISO = t.Format("2006-01-02")
		} else {
			res.SoftErrors = append(res.SoftErrors,
				fmt.Sprintf("No entendí la fecha %q. Probá con \"hoy\", \"ayer\" o 2024-05-12.", rec.Date))
		}
	}

	res.Record = rec
	return res, nil
}

func (n *Normalizer) normalizeRun(ctx context.Context, farmID string, fields map[string]any) (*Result, error) {
	res := &Result{}
	rec := RunRecord{
		Formula: strings.TrimSpace(stringField(fields, "formula")),
		Date:    strings.TrimSpace(stringField(fields, "date")),
	}

	if rec.Formula != "" {
		ref, err := n.catalog.Lookup(ctx, farmID, catalog.EntityFeedFormula, rec.Formula)
		if err != nil {
			return nil, err
		}
		if ref == nil {
			res.SoftErrors = append(res.SoftErrors,
				fmt.Sprintf("Fórmula %q no encontrada.", rec.Formula))
		} else {
			rec.FormulaID = ref.ID
			rec.FormulaCode = ref.Code
			rec.FormulaName = ref.Name
		}
	}

	if v, ok, softErr := numberField(fields, "batches"); softErr != "" {
		res.SoftErrors = append(res.SoftErrors, softErr)
	} else if ok {
		rec.Batches = v
		if v > n.cfg.MaxPlausibleBatches {
			// Implausibly many batches: the operator typed the produced mass
			// in kilograms. One batch weighs the canonical formula total.
			rec.Batches = roundKg(v / n.cfg.CanonicalTotalKg)
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"Interpreté %s como kilogramos producidos: equivale a %s bachadas de %s kg.",
				formatKg(v), formatKg(rec.Batches), formatKg(n.cfg.CanonicalTotalKg)))
		}
	}

	if rec.Date != "" {
		if t, ok := ParseDate(rec.Date, n.now()); ok {
			rec.DateISO = t.Format("2006-01-02")
		} else {
			res.SoftErrors = append(res.SoftErrors,
				fmt.Sprintf("No entendí la fecha %q. Probá con \"hoy\", \"ayer\" o 2024-05-12.", rec.Date))
		}
	}

	res.Record = rec
	return res, nil
}

// canonicalCode folds a natural-key code to canonical uppercase form.
// Free-text names are never re-cased; only codes are.
func canonicalCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

// numberField reads a numeric candidate, coercing numeric strings the model
// occasionally produces. Returns ok=false when absent; a non-empty softErr
// when present but unparseable.
func numberField(fields map[string]any, key string) (v float64, ok bool, softErr string) {
	raw, present := fields[key]
	if !present || raw == nil {
		return 0, false, ""
	}
	switch t := raw.(type) {
	case float64:
		return t, true, ""
	case int:
		return float64(t), true, ""
	case string:
		trimmed := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if trimmed == "" {
			return 0, false, ""
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false, fmt.Sprintf("No entendí el número %q.", t)
		}
		return f, true, ""
	default:
		return 0, false, fmt.Sprintf("No entendí el valor de %q.", key)
	}
}
