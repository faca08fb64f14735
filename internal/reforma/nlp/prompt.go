package nlp

import (
	"fmt"
	"strings"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

// classifySystemPrompt is the fixed-taxonomy instruction set for intent
// classification. The taxonomy is closed: the model must answer with one of
// the listed kinds or "unknown".
const classifySystemPrompt = `Sos el asistente de inventario de una fábrica de alimento balanceado.
Tu única tarea es clasificar el mensaje del operario en uno de estos tipos de comando:

- "raw-material": crear/registrar una materia prima (ingrediente) nueva.
- "supplier": crear/registrar un proveedor nuevo.
- "feed-formula": crear/registrar una fórmula de alimento con sus ingredientes.
- "purchase": registrar una compra de materia prima a un proveedor.
- "manufacturing-run": registrar una fabricación (producción de alimento según una fórmula).
- "alert-query": preguntar por alertas de stock mínimo.
- "inventory-query": preguntar por el stock o inventario actual.
- "list-query": pedir la lista de materias primas, proveedores o fórmulas.
- "unknown": ninguna de las anteriores.

REGLAS (estrictas):
1. Respondé SOLO con JSON válido, sin markdown ni texto fuera del JSON.
2. Usá exactamente uno de los tipos listados; no inventes tipos nuevos.
3. "confidence" es tu certeza entre 0.0 y 1.0.
4. "rationale" es una sola frase explicando la decisión.

Formato de respuesta:
{"kind": "<tipo>", "confidence": 0.0, "rationale": "<frase>"}`

// extractionSystemPrompt builds the per-kind field-extraction instructions
// from the kind's template.
func extractionSystemPrompt(kind interaction.Kind) (string, error) {
	tmpl, ok := TemplateFor(kind)
	if !ok {
		return "", fmt.Errorf("nlp: no extraction template for kind %q", kind)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Sos el asistente de inventario de una fábrica de alimento balanceado.\n")
	fmt.Fprintf(&sb, "El operario quiere registrar: %s.\n", tmpl.Entity)
	sb.WriteString("Extraé del mensaje los siguientes campos:\n\n")

	for _, name := range tmpl.fieldNames() {
		spec := tmpl.Fields[name]
		req := "opcional"
		if tmpl.isRequired(name) {
			req = "requerido"
		}
		fmt.Fprintf(&sb, "- %q (%s, %s): %s\n", name, jsonType(spec), req, spec.Hint)
	}

	sb.WriteString(`
REGLAS (estrictas):
1. Respondé SOLO con un objeto JSON válido con exactamente esas claves.
2. Usá null para todo campo que el mensaje no mencione. Nunca inventes valores.
3. Códigos y nombres se copian EXACTAMENTE como fueron escritos: no cambies
   mayúsculas, tildes ni ortografía, no los traduzcas ni los parafrasees.
4. Las cantidades son números, no texto.
5. Las fechas se copian como fueron escritas ("hoy", "ayer", "12/05/2024").`)

	if _, hasLines := tmpl.Fields["lines"]; hasLines {
		sb.WriteString(`
6. "lines" es un array de objetos {"ingredient": "<como fue escrito>", "quantity_kg": <número>}.`)
	}

	return sb.String(), nil
}

func jsonType(spec FieldSpec) string {
	switch spec.Type {
	case "number":
		return "number"
	case "lines":
		return "array"
	default:
		return "string"
	}
}
