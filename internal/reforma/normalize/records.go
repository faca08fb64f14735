// Package normalize turns the extractor's candidate fields into canonical,
// reference-resolved records. Unresolvable references and unparseable dates
// become soft errors carried alongside the record, never failures: the next
// user turn can always repair them.
package normalize

import (
	"encoding/json"
	"fmt"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

// Record is the normalized per-kind payload variant. The concrete type is
// determined solely by the Interaction's kind tag.
type Record interface {
	recordKind() interaction.Kind
}

// RawMaterialRecord is the normalized raw-material creation payload.
type RawMaterialRecord struct {
	Code        string  `json:"code"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	MinStockKg  float64 `json:"min_stock_kg,omitempty"`
}

func (RawMaterialRecord) recordKind() interaction.Kind { return interaction.KindRawMaterial }

// SupplierRecord is the normalized supplier creation payload.
type SupplierRecord struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

func (SupplierRecord) recordKind() interaction.Kind { return interaction.KindSupplier }

// FormulaLine is one resolved ingredient line of a feed formula.
type FormulaLine struct {
	// Ingredient is the reference as typed by the operator.
	Ingredient   string  `json:"ingredient"`
	MaterialID   string  `json:"material_id,omitempty"`
	MaterialCode string  `json:"material_code,omitempty"`
	MaterialName string  `json:"material_name,omitempty"`
	QuantityKg   float64 `json:"quantity_kg"`
}

// FormulaRecord is the normalized feed-formula creation payload. Lines are
// rescaled to the canonical total when their sum deviates beyond the epsilon.
type FormulaRecord struct {
	Code           string        `json:"code"`
	Name           string        `json:"name"`
	AnimalType     string        `json:"animal_type,omitempty"`
	AnimalTypeID   string        `json:"animal_type_id,omitempty"`
	AnimalTypeName string        `json:"animal_type_name,omitempty"`
	Lines          []FormulaLine `json:"lines,omitempty"`
}

func (FormulaRecord) recordKind() interaction.Kind { return interaction.KindFeedFormula }

// PurchaseRecord is the normalized purchase payload.
type PurchaseRecord struct {
	Supplier     string  `json:"supplier,omitempty"`
	SupplierID   string  `json:"supplier_id,omitempty"`
	SupplierCode string  `json:"supplier_code,omitempty"`
	SupplierName string  `json:"supplier_name,omitempty"`
	Material     string  `json:"material,omitempty"`
	MaterialID   string  `json:"material_id,omitempty"`
	MaterialCode string  `json:"material_code,omitempty"`
	MaterialName string  `json:"material_name,omitempty"`
	QuantityKg   float64 `json:"quantity_kg,omitempty"`
	UnitPrice    float64 `json:"unit_price,omitempty"`
	Date         string  `json:"date,omitempty"`
	DateISO      string  `json:"date_iso,omitempty"`
}

func (PurchaseRecord) recordKind() interaction.Kind { return interaction.KindPurchase }

// RunRecord is the normalized manufacturing-run payload.
type RunRecord struct {
	Formula     string  `json:"formula,omitempty"`
	FormulaID   string  `json:"formula_id,omitempty"`
	FormulaCode string  `json:"formula_code,omitempty"`
	FormulaName string  `json:"formula_name,omitempty"`
	Batches     float64 `json:"batches,omitempty"`
	Date        string  `json:"date,omitempty"`
	DateISO     string  `json:"date_iso,omitempty"`
}

func (RunRecord) recordKind() interaction.Kind { return interaction.KindManufacturingRun }

// EncodeRecord serialises a Record for storage in the Interaction payload.
func EncodeRecord(rec Record) (json.RawMessage, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("normalize: encode %s record: %w", rec.recordKind(), err)
	}
	return raw, nil
}

// DecodeRecord deserialises a stored payload into the explicit variant for
// the kind tag. The tag alone decides the shape; no field sniffing.
func DecodeRecord(kind interaction.Kind, raw json.RawMessage) (Record, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("normalize: empty record payload for kind %q", kind)
	}

	var rec Record
	switch kind {
	case interaction.KindRawMaterial:
		rec = &RawMaterialRecord{}
	case interaction.KindSupplier:
		rec = &SupplierRecord{}
	case interaction.KindFeedFormula:
		rec = &FormulaRecord{}
	case interaction.KindPurchase:
		rec = &PurchaseRecord{}
	case interaction.KindManufacturingRun:
		rec = &RunRecord{}
	default:
		return nil, fmt.Errorf("normalize: kind %q has no record variant", kind)
	}

	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("normalize: decode %s record: %w", kind, err)
	}

	switch t := rec.(type) {
	case *RawMaterialRecord:
		return *t, nil
	case *SupplierRecord:
		return *t, nil
	case *FormulaRecord:
		return *t, nil
	case *PurchaseRecord:
		return *t, nil
	case *RunRecord:
		return *t, nil
	}
	return nil, fmt.Errorf("normalize: unreachable kind %q", kind)
}
