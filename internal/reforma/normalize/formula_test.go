package normalize

import (
	"strings"
	"testing"
)

func TestRebalanceLinesRescalesOffTotals(t *testing.T) {
	lines := []FormulaLine{
		{Ingredient: "maíz", QuantityKg: 600},
		{Ingredient: "soja", QuantityKg: 200},
	}

	rebalanced, warning := rebalanceLines(lines, DefaultCanonicalTotalKg, DefaultTotalEpsilonKg)
	if warning == "" {
		t.Fatal("expected a rebalancing warning")
	}
	if !strings.Contains(warning, "800") || !strings.Contains(warning, "1000") {
		t.Errorf("expected warning naming both totals, got %q", warning)
	}
	if rebalanced[0].QuantityKg != 750 {
		t.Errorf("expected 600*1.25 = 750, got %v", rebalanced[0].QuantityKg)
	}
	if rebalanced[1].QuantityKg != 250 {
		t.Errorf("expected 200*1.25 = 250, got %v", rebalanced[1].QuantityKg)
	}
}

func TestRebalanceLinesLeavesCanonicalTotalsAlone(t *testing.T) {
	lines := []FormulaLine{
		{Ingredient: "maíz", QuantityKg: 812.5},
		{Ingredient: "soja", QuantityKg: 187.5},
	}

	rebalanced, warning := rebalanceLines(lines, DefaultCanonicalTotalKg, DefaultTotalEpsilonKg)
	if warning != "" {
		t.Fatalf("expected no warning for a canonical total, got %q", warning)
	}
	if rebalanced[0].QuantityKg != 812.5 || rebalanced[1].QuantityKg != 187.5 {
		t.Errorf("expected lines untouched, got %v", rebalanced)
	}
}

func TestRebalanceLinesToleratesEpsilon(t *testing.T) {
	lines := []FormulaLine{
		{Ingredient: "maíz", QuantityKg: 999.8},
	}
	_, warning := rebalanceLines(lines, DefaultCanonicalTotalKg, DefaultTotalEpsilonKg)
	if warning != "" {
		t.Fatalf("expected deviation within epsilon to pass, got %q", warning)
	}
}

func TestCanonicalCodeUppercasesCodesOnly(t *testing.T) {
	if got := canonicalCode("  maiz001 "); got != "MAIZ001" {
		t.Errorf("expected MAIZ001, got %q", got)
	}
}

func TestNumberFieldCoercions(t *testing.T) {
	fields := map[string]any{
		"a": 12.5,
		"b": "40,5",
		"c": "muchos",
	}

	if v, ok, softErr := numberField(fields, "a"); !ok || softErr != "" || v != 12.5 {
		t.Errorf("float64: got (%v, %v, %q)", v, ok, softErr)
	}
	if v, ok, softErr := numberField(fields, "b"); !ok || softErr != "" || v != 40.5 {
		t.Errorf("comma-decimal string: got (%v, %v, %q)", v, ok, softErr)
	}
	if _, ok, softErr := numberField(fields, "c"); ok || softErr == "" {
		t.Errorf("unparseable string: expected soft error, got (%v, %q)", ok, softErr)
	}
	if _, ok, softErr := numberField(fields, "missing"); ok || softErr != "" {
		t.Errorf("absent key: expected (false, \"\"), got (%v, %q)", ok, softErr)
	}
}
