package evidence

import (
	"fmt"
	"strings"
)

// FormatTemplate declares the expected shape of answers for a query class.
// Templates restructure, they never invent content: an answer that already
// carries headings is left alone.
type FormatTemplate struct {
	Name     string
	Keywords []string
	Title    string
	Sections []string
}

var defaultTemplates = []FormatTemplate{
	{
		Name:     "visa",
		Keywords: []string{"visa", "kitas", "kitap", "immigration", "passport", "visto", "permesso"},
		Title:    "Visa & Immigration",
		Sections: []string{"Requirements", "Process", "Costs"},
	},
	{
		Name:     "tax",
		Keywords: []string{"tax", "npwp", "pph", "ppn", "tasse", "pajak"},
		Title:    "Tax Guidance",
		Sections: []string{"Obligations", "Deadlines", "Costs"},
	},
	{
		Name:     "company",
		Keywords: []string{"pt pma", "company", "incorporat", "business setup", "società", "perusahaan"},
		Title:    "Company Setup",
		Sections: []string{"Structure", "Requirements", "Timeline", "Costs"},
	},
}

// DetectTemplate returns the template for the query's class, or nil when
// no class matches.
func DetectTemplate(templates []FormatTemplate, query string) *FormatTemplate {
	lowered := strings.ToLower(query)
	for i := range templates {
		for _, kw := range templates[i].Keywords {
			if strings.Contains(lowered, kw) {
				return &templates[i]
			}
		}
	}
	return nil
}

// Apply enforces the template shape. Answers that already use headings
// pass through untouched; flat answers get the class title.
func (t *FormatTemplate) Apply(answer string) string {
	if strings.Contains(answer, "## ") || strings.Contains(answer, "**") {
		return answer
	}
	return fmt.Sprintf("## %s\n\n%s", t.Title, answer)
}
