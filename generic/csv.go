// Package generic parses broker exports with no institution-specific layout,
// mapping common column headings onto the canonical position fields.
package generic

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/etnz/patrimoine"
)

// CSVStrategy identifies the flexible-column CSV parser.
const CSVStrategy = "generic.csv.flexible"

// columnAliases maps each canonical field to the headings seen across broker
// exports, lowercase and trimmed.
var columnAliases = map[string][]string{
	"ticker":   {"ticker", "symbole", "code", "isin", "ticker/isin"},
	"quantite": {"quantite", "quantity", "qté", "nombre", "quantité"},
	"prix":     {"prix", "price", "cours", "valeur_unitaire", "prix_unitaire", "prix unitaire", "clôture"},
	"valeur":   {"valeur", "value", "montant", "total", "valeur_totale", "valeur totale", "montant en eur"},
	"nom":      {"nom", "name", "libelle", "libellé", "description", "designation", "désignation", "produit"},
}

// CSV is the catch-all securities-account parser, typically declared as a
// fallback after an institution-specific strategy.
type CSV struct{}

func (CSV) StrategyName() string       { return CSVStrategy }
func (CSV) SupportedFormats() []string { return []string{"csv"} }

// CanParse scores 0.7 when the header carries both a value column and an
// identifier column, 0.3 for any other readable CSV. The generic parser never
// claims full confidence so an institution-specific parser always outranks it.
func (c CSV) CanParse(path string, meta patrimoine.AccountMetadata) float64 {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return 0.0
	}
	records, err := readCSV(path, 5)
	if err != nil || len(records) == 0 {
		return 0.0
	}

	columns := normalizeHeader(records[0])
	hasValue := hasAnyAlias(columns, columnAliases["valeur"])
	hasIdentifier := hasAnyAlias(columns, columnAliases["ticker"]) || hasAnyAlias(columns, columnAliases["nom"])
	if hasValue && hasIdentifier {
		return 0.7
	}
	return 0.3
}

func (c CSV) Parse(path string, meta patrimoine.AccountMetadata) (*patrimoine.ParseResult, error) {
	records, err := readCSV(path, 0)
	if err != nil {
		return nil, &patrimoine.ParsingError{Strategy: CSVStrategy, Path: path, Err: err}
	}
	if len(records) < 2 {
		return nil, &patrimoine.ParsingError{Strategy: CSVStrategy, Path: path,
			Err: fmt.Errorf("no data row")}
	}

	// Map each canonical field to its column index.
	columns := normalizeHeader(records[0])
	index := make(map[string]int)
	for field, aliases := range columnAliases {
		for i, col := range columns {
			if slices.Contains(aliases, col) {
				index[field] = i
				break
			}
		}
	}

	var positions []patrimoine.Position
	total := patrimoine.EUR(0)
	for _, record := range records[1:] {
		pos, ok := buildPosition(record, index)
		if !ok {
			continue
		}
		positions = append(positions, pos)
		total = total.Add(pos.Valeur)
	}

	kind := meta.AccountType
	if kind == "" {
		kind = "CTO"
	}
	return &patrimoine.ParseResult{
		Type:      kind,
		Montant:   total,
		Positions: positions,
	}, nil
}

func buildPosition(record []string, index map[string]int) (patrimoine.Position, bool) {
	cell := func(field string) string {
		i, ok := index[field]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	pos := patrimoine.Position{
		Nom:    cell("nom"),
		Ticker: cell("ticker"),
	}
	if pos.Nom == "" && pos.Ticker == "" {
		return patrimoine.Position{}, false
	}
	if q := cell("quantite"); q != "" {
		pos.Quantite = patrimoine.ParseQuantity(q)
	}
	if p := cell("prix"); p != "" {
		pos.Prix = patrimoine.ParseAmount(p)
	}
	if v := cell("valeur"); v != "" {
		pos.Valeur = patrimoine.ParseAmount(v)
	} else if !pos.Quantite.IsZero() && !pos.Prix.IsZero() {
		// Value column missing but derivable.
		pos.Valeur = pos.Prix.Mul(pos.Quantite)
	}
	return pos, true
}

// readCSV reads up to maxRows records (0 for all), sniffing the separator
// from the header line and stripping a leading UTF-8 BOM.
func readCSV(path string, maxRows int) ([][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	content := strings.TrimPrefix(string(raw), "\ufeff")

	header, _, _ := strings.Cut(content, "\n")
	sep := ','
	if strings.Count(header, ";") > strings.Count(header, ",") {
		sep = ';'
	}

	r := csv.NewReader(strings.NewReader(content))
	r.Comma = sep
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("cannot read csv: %w", err)
	}
	if maxRows > 0 && len(records) > maxRows {
		records = records[:maxRows]
	}
	return records, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.ToLower(strings.TrimSpace(h))
	}
	return out
}

func hasAnyAlias(columns, aliases []string) bool {
	for _, col := range columns {
		if slices.Contains(aliases, col) {
			return true
		}
	}
	return false
}

// Validate flags an empty position list, reconciliation gaps beyond rounding,
// and negative position values.
func (c CSV) Validate(result *patrimoine.ParseResult) []string {
	var anomalies []string

	if len(result.Positions) == 0 {
		anomalies = append(anomalies, "no position detected in the csv")
	}
	recomputed := result.Reconciled()
	if !result.Montant.Within(recomputed, patrimoine.EUR(0.01)) {
		anomalies = append(anomalies, fmt.Sprintf(
			"valuation gap: computed %s vs declared %s", recomputed, result.Montant))
	}
	for _, pos := range result.Positions {
		if pos.Valeur.IsNegative() {
			nom := pos.Nom
			if nom == "" {
				nom = pos.Ticker
			}
			anomalies = append(anomalies, fmt.Sprintf("negative value for position %s", nom))
		}
	}
	return anomalies
}
