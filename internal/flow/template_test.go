package flow

import (
	"reflect"
	"testing"

	"github.com/BTreeMap/BotPipe/internal/models"
)

func TestRender(t *testing.T) {
	vars := models.Context{
		"name":  models.StringValue("Ann"),
		"age":   models.NumberValue(30),
		"vip":   models.BoolValue(true),
		"score": models.NumberValue(2.5),
		"имя":   models.StringValue("Аня"),
	}
	tests := []struct {
		name    string
		tmpl    string
		want    string
		missing []string
	}{
		{"plain text", "Hello there", "Hello there", nil},
		{"single variable", "Hello {name}", "Hello Ann", nil},
		{"several variables", "{name} is {age}, vip={vip}, score {score}", "Ann is 30, vip=true, score 2.5", nil},
		{"missing variable kept", "Hello {nick}", "Hello {nick}", []string{"nick"}},
		{"mixed missing", "{name} and {friend}", "Ann and {friend}", []string{"friend"}},
		{"escaped braces", "{{name}} is {name}", "{name} is Ann", nil},
		{"unterminated brace", "Hello {name", "Hello {name", nil},
		{"empty reference", "Hello {}", "Hello {}", nil},
		{"non identifier", "Hello {first name}", "Hello {first name}", nil},
		{"lone closing brace", "a } b", "a } b", nil},
		{"cyrillic variable", "Привет, {имя}!", "Привет, Аня!", nil},
		{"cyrillic missing", "Город: {город}", "Город: {город}", []string{"город"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, missing := Render(tt.tmpl, vars)
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
			if !reflect.DeepEqual(missing, tt.missing) {
				t.Errorf("Render(%q) missing = %v, want %v", tt.tmpl, missing, tt.missing)
			}
		})
	}
}

func TestRenderEmptyContext(t *testing.T) {
	got, missing := Render("Hello {name}", models.Context{})
	if got != "Hello {name}" || len(missing) != 1 {
		t.Errorf("got %q, %v", got, missing)
	}
	if got, _ := Render("Hi {name}", nil); got != "Hi {name}" {
		t.Errorf("nil context: got %q", got)
	}
}
