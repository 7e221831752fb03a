// Package creditagricole parses Crédit Agricole account statements in the
// PDF formats exported from the bank's web interface.
package creditagricole

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPages returns the text of each PDF page, one string per page with
// newline-separated rows. The pdf library occasionally panics on malformed
// files; the panic is turned into an error so callers see a plain failure.
func extractPages(path string) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf extraction crashed on %q: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open pdf %q: %w", path, err)
	}
	defer f.Close()

	if r.NumPage() == 0 {
		return nil, fmt.Errorf("pdf %q has no pages", path)
	}

	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		var lines []string
		for _, row := range rows {
			var parts []string
			for _, word := range row.Content {
				parts = append(parts, word.S)
			}
			if line := strings.TrimSpace(strings.Join(parts, " ")); line != "" {
				lines = append(lines, line)
			}
		}
		pages = append(pages, strings.Join(lines, "\n"))
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no text extracted from %q", path)
	}
	return pages, nil
}

func custodianMatches(custodian string) bool {
	c := strings.ToLower(custodian)
	return c == "credit_agricole" || c == "ca"
}
