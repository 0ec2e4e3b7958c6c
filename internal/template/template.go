package template

import (
	"strings"
	"time"

	"github.com/bulkmailer/campaign-engine/internal/model"
)

// Render substitutes the supported placeholders with recipient-specific
// values. A placeholder whose value is missing renders as the empty
// string; unsupported placeholders are left in the output untouched.
func Render(tpl string, r model.Recipient, now time.Time) string {
	return RenderMap(tpl, map[string]string{
		"name":      r.Name,
		"email":     r.Email,
		"greeting":  greeting(r.Name, now),
		"timestamp": now.Format("2006-01-02 15:04"),
	})
}

// RenderMap replaces every {{key}} in tpl with its mapped value.
func RenderMap(tpl string, data map[string]string) string {
	result := tpl
	for k, v := range data {
		result = strings.ReplaceAll(result, "{{"+k+"}}", v)
	}
	return result
}

func greeting(name string, now time.Time) string {
	var part string
	switch h := now.Hour(); {
	case h < 12:
		part = "Good morning"
	case h < 18:
		part = "Good afternoon"
	default:
		part = "Good evening"
	}
	if name == "" {
		return part
	}
	return part + ", " + name
}
