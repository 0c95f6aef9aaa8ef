package utils

import (
	"strings"

	"mailpilot/models"
)

// templateFields maps merge tags to the lead attribute they render.
var templateFields = map[string]func(*models.Lead) string{
	"first_name": func(l *models.Lead) string { return l.FirstName },
	"last_name":  func(l *models.Lead) string { return l.LastName },
	"full_name": func(l *models.Lead) string {
		return strings.TrimSpace(l.FirstName + " " + l.LastName)
	},
	"email":    func(l *models.Lead) string { return l.Email },
	"company":  func(l *models.Lead) string { return l.Company },
	"position": func(l *models.Lead) string { return l.Position },
	"phone":    func(l *models.Lead) string { return l.Phone },
	"website":  func(l *models.Lead) string { return l.Website },
}

// RenderTemplate substitutes lead attributes into a subject or body
// template. Placeholders use the {{attribute}} form. An attribute the lead
// does not carry renders as an empty string; rendering never fails.
func RenderTemplate(text string, lead *models.Lead) string {
	if lead == nil {
		lead = &models.Lead{}
	}

	pairs := make([]string, 0, len(templateFields)*2)
	for tag, value := range templateFields {
		pairs = append(pairs, "{{"+tag+"}}", value(lead))
	}

	return strings.NewReplacer(pairs...).Replace(text)
}
