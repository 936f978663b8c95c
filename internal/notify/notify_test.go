package notify

import "testing"

func TestRenderSubstitutesVars(t *testing.T) {
	out := render("Hello {{name}}, you earned {{amount}}!", map[string]string{
		"name":   "Alex",
		"amount": "50.00",
	})
	want := "Hello Alex, you earned 50.00!"
	if out != want {
		t.Errorf("want %q, got %q", want, out)
	}
}

func TestRenderWithNoVarsReturnsTemplateUnchanged(t *testing.T) {
	out := render("no placeholders here", nil)
	if out != "no placeholders here" {
		t.Errorf("expected template unchanged, got %q", out)
	}
}

func TestRenderLeavesUnknownPlaceholdersAlone(t *testing.T) {
	out := render("Hi {{name}}, {{unknown}} stays", map[string]string{"name": "Sam"})
	want := "Hi Sam, {{unknown}} stays"
	if out != want {
		t.Errorf("want %q, got %q", want, out)
	}
}
