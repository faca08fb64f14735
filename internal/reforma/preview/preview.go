// Package preview renders the human-readable confirmation summary shown
// before a record is committed.
package preview

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/normalize"
)

// ConfirmPrompt is the fixed closing line listing the three accepted replies.
const ConfirmPrompt = "Respondé **sí** para confirmar, **no** para cancelar, o **modificar** para corregir algún dato."

// Render builds the confirmation message for a normalized record: the fields
// about to be committed (with references resolved back to display names),
// then any warnings, then the fixed confirm/cancel/modify prompt.
func Render(rec normalize.Record, siteName string, warnings []string) string {
	var sb strings.Builder

	switch r := rec.(type) {
	case normalize.RawMaterialRecord:
		sb.WriteString("Voy a crear esta materia prima:\n\n")
		field(&sb, "Código", r.Code)
		field(&sb, "Nombre", r.Name)
		field(&sb, "Descripción", r.Description)
		if r.MinStockKg > 0 {
			field(&sb, "Stock mínimo", kg(r.MinStockKg))
		}

	case normalize.SupplierRecord:
		sb.WriteString("Voy a crear este proveedor:\n\n")
		field(&sb, "Código", r.Code)
		field(&sb, "Nombre", r.Name)
		field(&sb, "Teléfono", r.Phone)
		field(&sb, "Email", r.Email)

	case normalize.FormulaRecord:
		sb.WriteString("Voy a crear esta fórmula:\n\n")
		field(&sb, "Código", r.Code)
		field(&sb, "Nombre", r.Name)
		field(&sb, "Tipo de animal", displayRef(r.AnimalTypeName, r.AnimalType))
		if len(r.Lines) > 0 {
			sb.WriteString("• Ingredientes:\n")
			for _, l := range r.Lines {
				name := displayRef(l.MaterialName, l.Ingredient)
				if l.MaterialCode != "" {
					name = fmt.Sprintf("%s (%s)", name, l.MaterialCode)
				}
				fmt.Fprintf(&sb, "    - %s: %s\n", name, kg(l.QuantityKg))
			}
		}

	case normalize.PurchaseRecord:
		sb.WriteString("Voy a registrar esta compra:\n\n")
		field(&sb, "Proveedor", displayRef(r.SupplierName, r.Supplier))
		field(&sb, "Materia prima", displayRef(r.MaterialName, r.Material))
		if r.QuantityKg > 0 {
			field(&sb, "Cantidad", kg(r.QuantityKg))
		}
		if r.UnitPrice > 0 {
			field(&sb, "Precio unitario", "$"+formatNumber(r.UnitPrice))
		}
		field(&sb, "Fecha", displayRef(r.DateISO, r.Date))

	case normalize.RunRecord:
		sb.WriteString("Voy a registrar esta fabricación:\n\n")
		name := displayRef(r.FormulaName, r.Formula)
		if r.FormulaCode != "" {
			name = fmt.Sprintf("%s (%s)", name, r.FormulaCode)
		}
		field(&sb, "Fórmula", name)
		if r.Batches > 0 {
			field(&sb, "Bachadas", formatNumber(r.Batches))
		}
		field(&sb, "Fecha", displayRef(r.DateISO, r.Date))
	}

	field(&sb, "Planta", siteName)

	for _, w := range warnings {
		sb.WriteString("\n⚠️ " + w + "\n")
	}

	sb.WriteString("\n" + ConfirmPrompt)
	return sb.String()
}

// field appends one "• Label: value" line, skipping empty values.
func field(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "• %s: %s\n", label, value)
}

// displayRef prefers the resolved display name over the reference as typed.
func displayRef(resolved, typed string) string {
	if resolved != "" {
		return resolved
	}
	return typed
}

func kg(v float64) string {
	return formatNumber(v) + " kg"
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
