package render

import (
	"strings"
	"testing"

	"github.com/acme/whatsapp-campaign/internal/domain"
)

func TestRenderSubstitutesFields(t *testing.T) {
	recipient := domain.Recipient{
		FirstName: "Lina",
		Extra:     map[string]string{"company": "Acme"},
	}

	got := Render("Hi {{first_name}}, from {{company}}", recipient)
	if got != "Hi Lina, from Acme" {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestRenderEmptyAndUnknownFields(t *testing.T) {
	recipient := domain.Recipient{}

	got := Render("Hi {{first_name}}, from {{company}}", recipient)
	if got != "Hi , from" {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestRenderNeverLeavesPlaceholders(t *testing.T) {
	templates := []string{
		"{{unknown}}",
		"{{ spaced }} text",
		"{{a}}{{b}}{{c}}",
		"plain text",
		"{{first_name}} {{last_name}} {{email}}",
		"broken {{ not closed",
		"",
	}
	recipient := domain.Recipient{FirstName: "A", LastName: "B", Email: "a@b.c"}

	for _, tpl := range templates {
		got := Render(tpl, recipient)
		if strings.Contains(got, "{{") && strings.Contains(got, "}}") {
			t.Fatalf("placeholder survived in %q -> %q", tpl, got)
		}
	}
}

func TestRenderExtraShadowsBuiltins(t *testing.T) {
	recipient := domain.Recipient{
		FirstName: "Lina",
		Extra:     map[string]string{"first_name": "Override"},
	}
	if got := Render("{{first_name}}", recipient); got != "Override" {
		t.Fatalf("extra field must shadow builtin, got %q", got)
	}
}

func TestRenderTrims(t *testing.T) {
	if got := Render("  {{unknown}} hello {{unknown}}  ", domain.Recipient{}); got != "hello" {
		t.Fatalf("expected trimmed output, got %q", got)
	}
}
