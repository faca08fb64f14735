package dialog

import (
	"errors"
	"fmt"
	"strings"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/catalog"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/commit"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/validate"
)

const (
	// UnknownSenderMessage is sent to senders with no operator registration.
	UnknownSenderMessage = "No tenés acceso a este asistente. Pedile al administrador de tu granja que registre tu usuario."

	// HelpMessage is the fallback when no intent is recognizable.
	HelpMessage = "Puedo ayudarte a crear materias primas, proveedores, fórmulas, compras y fabricaciones, " +
		"o a consultar stock y alertas. Por ejemplo: \"crear materia prima maíz con código MAIZ001\"."

	// CancelledMessage confirms a cancellation; nothing was created.
	CancelledMessage = "❌ Cancelado. No se creó ningún registro."

	// ModifyPrompt asks which field to change.
	ModifyPrompt = "Decime qué dato querés cambiar (por ejemplo: \"el código es MAIZ002\")."

	// AlreadyResolvedMessage is sent when a turn loses a race against another
	// turn that already resolved the same operation.
	AlreadyResolvedMessage = "⚠️ Esta operación ya fue procesada."
)

// kindLabels maps each record-creation kind to its user-facing Spanish name.
var kindLabels = map[interaction.Kind]string{
	interaction.KindRawMaterial:      "la materia prima",
	interaction.KindSupplier:         "el proveedor",
	interaction.KindFeedFormula:      "la fórmula",
	interaction.KindPurchase:         "la compra",
	interaction.KindManufacturingRun: "la fabricación",
}

func kindLabel(kind interaction.Kind) string {
	if label, ok := kindLabels[kind]; ok {
		return label
	}
	return "el registro"
}

// sitePrompt renders the numbered site list the operator chooses from.
func sitePrompt(sites []interaction.SiteOption) string {
	var sb strings.Builder
	sb.WriteString("¿En qué planta?\n")
	for i, s := range sites {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s.Name)
	}
	sb.WriteString("Respondé con el número o el nombre.")
	return sb.String()
}

// missingDataMessage lists what still blocks the confirmation step.
func missingDataMessage(kind interaction.Kind, verdict *validate.Verdict) string {
	var sb strings.Builder
	if len(verdict.Missing) > 0 {
		fmt.Fprintf(&sb, "Me faltan estos datos para crear %s: %s.",
			kindLabel(kind), strings.Join(verdict.Missing, ", "))
	}
	for _, e := range verdict.Errors {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("⚠️ " + e)
	}
	if sb.Len() == 0 {
		fmt.Fprintf(&sb, "Necesito más datos para crear %s.", kindLabel(kind))
	}
	return sb.String()
}

var successPhrases = map[interaction.Kind]string{
	interaction.KindRawMaterial:      "la materia prima quedó registrada",
	interaction.KindSupplier:         "el proveedor quedó registrado",
	interaction.KindFeedFormula:      "la fórmula quedó registrada",
	interaction.KindPurchase:         "la compra quedó registrada",
	interaction.KindManufacturingRun: "la fabricación quedó registrada",
}

func successMessage(kind interaction.Kind, recordRef string) string {
	phrase, ok := successPhrases[kind]
	if !ok {
		phrase = "el registro quedó creado"
	}
	if recordRef != "" {
		return fmt.Sprintf("✅ Listo, %s (ref %s).", phrase, recordRef)
	}
	return fmt.Sprintf("✅ Listo, %s.", phrase)
}

func failureMessage(err error) string {
	var derr *commit.DomainError
	if errors.As(err, &derr) && derr.Field != "" {
		return fmt.Sprintf("⚠️ No se pudo crear el registro: %s (%s: %s).",
			derr.Message, derr.Field, derr.Value)
	}
	return "⚠️ No se pudo crear el registro. Revisá los datos e intentá de nuevo."
}

// renderStock formats the inventory query answer.
func renderStock(lines []catalog.StockLine) string {
	if len(lines) == 0 {
		return "No hay materias primas cargadas todavía."
	}
	var sb strings.Builder
	sb.WriteString("📦 Stock actual:\n")
	for _, l := range lines {
		fmt.Fprintf(&sb, "- %s (%s): %.1f kg\n", l.Name, l.Code, l.CurrentKg)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// renderAlerts formats the low-stock alert answer.
func renderAlerts(lines []catalog.StockLine) string {
	if len(lines) == 0 {
		return "✅ Ninguna materia prima está por debajo de su stock mínimo."
	}
	var sb strings.Builder
	sb.WriteString("🚨 Materias primas en alerta:\n")
	for _, l := range lines {
		fmt.Fprintf(&sb, "- %s (%s): %.1f kg, mínimo %.1f kg\n", l.Name, l.Code, l.CurrentKg, l.MinKg)
	}
	return strings.TrimRight(sb.String(), "\n")
}

var listHeadings = map[catalog.Entity]string{
	catalog.EntityRawMaterial: "Materias primas",
	catalog.EntitySupplier:    "Proveedores",
	catalog.EntityFeedFormula: "Fórmulas",
	catalog.EntityAnimalType:  "Tipos de animal",
}

// renderList formats a per-entity list query answer.
func renderList(entity catalog.Entity, refs []catalog.Ref) string {
	heading := listHeadings[entity]
	if len(refs) == 0 {
		return fmt.Sprintf("%s: ninguna registrada todavía.", heading)
	}
	var sb strings.Builder
	sb.WriteString(heading + ":\n")
	for _, ref := range refs {
		if ref.Code != "" {
			fmt.Fprintf(&sb, "- %s (%s)\n", ref.Name, ref.Code)
		} else {
			fmt.Fprintf(&sb, "- %s\n", ref.Name)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
