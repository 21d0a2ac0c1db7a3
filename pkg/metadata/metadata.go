// Package metadata recovers case identifiers and dates from normalized decision text.
package metadata

import (
	"regexp"
	"strings"

	"github.com/xhad/verdikt/internal/models"
)

const letters = `\dа-яА-ЯіїєґІЇЄҐ\-`

var (
	caseNumberPattern = regexp.MustCompile(
		`(?i)(?:Категорія справи|Справа)?\s*№?\s*([` + letters + `]+(?:/[` + letters + `]+)+)`)
	proceedingPattern = regexp.MustCompile(`(?i)(?:провадження)?\s*№\s*(\d+/\d+/\d+/\d+)`)
	datePattern       = regexp.MustCompile(`(?i)(\d{2}\.\d{2}\.\d{4})|(\d{1,2}\s+[а-яґєії]+\s+20\d{2})`)
)

// Extract never fails: missing numbers come back as models.UnspecifiedValue
// and a missing date as nil.
func Extract(text string) models.DecisionMetadata {
	meta := models.DecisionMetadata{
		Number:     models.UnspecifiedValue,
		Proceeding: models.UnspecifiedValue,
	}

	if m := caseNumberPattern.FindStringSubmatch(text); m != nil {
		meta.Number = m[1]
	}
	if m := proceedingPattern.FindStringSubmatch(text); m != nil {
		meta.Proceeding = m[1]
	}
	if m := datePattern.FindStringSubmatch(text); m != nil {
		date := m[1]
		if date == "" {
			date = strings.Join(strings.Fields(m[2]), " ")
		}
		meta.Date = &date
	}

	return meta
}
