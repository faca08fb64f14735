// Package validate decides whether a normalized record is complete and
// committable: every required field present, and the natural key unique
// within the tenant.
package validate

import (
	"context"
	"fmt"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/catalog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/normalize"
)

// Verdict is the validation outcome for one record.
type Verdict struct {
	// Valid is true iff Missing and Errors are both empty.
	Valid bool
	// Missing lists required fields absent from the record, as the operator
	// should see them.
	Missing []string
	// Errors lists uniqueness failures plus the soft errors carried over
	// from normalization.
	Errors []string
}

// Validator checks normalized records against the tenant's existing data.
type Validator struct {
	catalog *catalog.Reader
}

// New creates a Validator backed by the given catalog reader.
func New(reader *catalog.Reader) *Validator {
	return &Validator{catalog: reader}
}

// Validate produces the verdict for a normalized record. softErrors are the
// normalizer's accumulated data problems; they are merged into the verdict so
// an unresolved reference blocks the confirmation step exactly like a missing
// field does. The returned error is reserved for persistence failures.
func (v *Validator) Validate(ctx context.Context, farmID string, rec normalize.Record, softErrors []string) (*Verdict, error) {
	verdict := &Verdict{}
	verdict.Errors = append(verdict.Errors, softErrors...)

	switch r := rec.(type) {
	case normalize.RawMaterialRecord:
		requireString(verdict, r.Code, "código")
		requireString(verdict, r.Name, "nombre")
		if err := v.requireUniqueCode(ctx, verdict, farmID, catalog.EntityRawMaterial, r.Code, "una materia prima"); err != nil {
			return nil, err
		}

	case normalize.SupplierRecord:
		requireString(verdict, r.Code, "código")
		requireString(verdict, r.Name, "nombre")
		if err := v.requireUniqueCode(ctx, verdict, farmID, catalog.EntitySupplier, r.Code, "un proveedor"); err != nil {
			return nil, err
		}

	case normalize.FormulaRecord:
		requireString(verdict, r.Code, "código")
		requireString(verdict, r.Name, "nombre")
		if len(r.Lines) == 0 {
			verdict.Missing = append(verdict.Missing, "ingredientes")
		}
		if err := v.requireUniqueCode(ctx, verdict, farmID, catalog.EntityFeedFormula, r.Code, "una fórmula"); err != nil {
			return nil, err
		}

	case normalize.PurchaseRecord:
		requireString(verdict, r.Supplier, "proveedor")
		requireString(verdict, r.Material, "materia prima")
		if r.QuantityKg <= 0 {
			verdict.Missing = append(verdict.Missing, "cantidad (kg)")
		}
		requireString(verdict, r.Date, "fecha")

	case normalize.RunRecord:
		requireString(verdict, r.Formula, "fórmula")
		if r.Batches <= 0 {
			verdict.Missing = append(verdict.Missing, "cantidad de bachadas")
		}
		requireString(verdict, r.Date, "fecha")

	default:
		return nil, fmt.Errorf("validate: unsupported record type %T", rec)
	}

	verdict.Valid = len(verdict.Missing) == 0 && len(verdict.Errors) == 0
	return verdict, nil
}

func requireString(verdict *Verdict, value, label string) {
	if value == "" {
		verdict.Missing = append(verdict.Missing, label)
	}
}

// requireUniqueCode appends a uniqueness error naming the offending code when
// the natural key already exists for the tenant. Reported even when other
// required fields are missing, so the operator learns about the duplicate on
// the first turn.
func (v *Validator) requireUniqueCode(ctx context.Context, verdict *Verdict, farmID string, entity catalog.Entity, code, article string) error {
	if code == "" {
		return nil
	}
	exists, err := v.catalog.Exists(ctx, farmID, entity, code)
	if err != nil {
		return err
	}
	if exists {
		verdict.Errors = append(verdict.Errors,
			fmt.Sprintf("Ya existe %s con el código %s.", article, code))
	}
	return nil
}
