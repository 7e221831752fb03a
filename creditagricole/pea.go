package creditagricole

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/etnz/patrimoine"
)

// PEAStrategy identifies the web-export PEA statement format in use since
// October 2025.
const PEAStrategy = "credit_agricole.pea.v2025"

// PEA parses PEA and PEA-PME statements exported from the Crédit Agricole
// web interface. Each security line carries an ISIN and the portfolio is
// followed by a total valuation formula from which the cash balance is read.
type PEA struct{}

func (PEA) StrategyName() string       { return PEAStrategy }
func (PEA) SupportedFormats() []string { return []string{"pdf"} }

// CanParse gates on the manifest metadata first (wrong custodian or account
// type is a hard zero) then scores the first page content. A retirement plan
// statement shares most markers with a PEA, so its mention excludes the file
// outright.
func (p PEA) CanParse(path string, meta patrimoine.AccountMetadata) float64 {
	if !custodianMatches(meta.Custodian) {
		return 0.0
	}
	kind := strings.ToUpper(meta.AccountType)
	if kind != "PEA" && kind != "PEA-PME" {
		return 0.0
	}

	pages, err := extractPages(path)
	if err != nil || pages[0] == "" {
		return 0.0
	}
	text := strings.ToLower(pages[0])

	if strings.Contains(text, "plan épargne retraite") || strings.Contains(text, "plan d'épargne retraite") {
		return 0.0
	}

	score := 0.0
	if strings.Contains(text, "mandat pea") || strings.Contains(text, "compte pea") {
		score += 0.4
	}
	if strings.Contains(text, "portefeuille") {
		score += 0.2
	}
	if strings.Contains(text, "valorisation totale") {
		score += 0.3
	}
	if len(pages) > 1 {
		score += 0.1
	}
	return min(score, 1.0)
}

func (p PEA) Parse(path string, meta patrimoine.AccountMetadata) (*patrimoine.ParseResult, error) {
	pages, err := extractPages(path)
	if err != nil {
		return nil, &patrimoine.ParsingError{Strategy: PEAStrategy, Path: path, Err: err}
	}
	result, err := p.parsePages(pages, meta)
	if err != nil {
		return nil, &patrimoine.ParsingError{Strategy: PEAStrategy, Path: path, Err: err}
	}
	return result, nil
}

// securityLine matches one portfolio row: the security name, its ISIN, an
// optional short exchange ticker, then the numeric columns.
var securityLine = regexp.MustCompile(`^(.+?)\s+([A-Z]{2}[A-Z0-9]{10})(?:\s+[A-Z0-9]{1,5})?\s+(.+)$`)

// amountToken matches a French-formatted amount. In extracted row text a
// plain space separates columns while thousands inside one amount are grouped
// by a non-breaking space, so only the latter may join digit groups:
// otherwise a quantity column and the price next to it merge into one number.
var amountToken = regexp.MustCompile(`-?\d+(?:\x{00a0}\d{3})*(?:,\d+)?`)

// parsePages extracts the positions and the cash balance from the page texts.
// Separated from the file I/O so the row parsing is testable on plain text.
func (p PEA) parsePages(pages []string, meta patrimoine.AccountMetadata) (*patrimoine.ParseResult, error) {
	var positions []patrimoine.Position
	for _, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			pos, ok := parseSecurityLine(line)
			if ok {
				positions = append(positions, pos)
			}
		}
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("no portfolio position found")
	}

	cash := extractCashBalance(strings.Join(pages, "\n"))

	total := cash
	for _, pos := range positions {
		total = total.Add(pos.Valeur)
	}

	kind := meta.AccountType
	if kind == "" {
		kind = "PEA"
	}
	return &patrimoine.ParseResult{
		Type:         kind,
		Montant:      total,
		Positions:    positions,
		SoldeEspeces: cash,
	}, nil
}

// parseSecurityLine reads one portfolio row. The numeric columns after the
// ISIN are quantity, unit price, then a variable mix of variation and gain
// columns; the valuation is recognized as the amount closest to quantity
// times price, which disambiguates it from the cost basis and gain columns.
func parseSecurityLine(line string) (patrimoine.Position, bool) {
	m := securityLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return patrimoine.Position{}, false
	}
	nom, isin, rest := strings.TrimSpace(m[1]), m[2], m[3]
	if !patrimoine.IsValidISIN(isin) {
		return patrimoine.Position{}, false
	}

	// A real row has at least quantity, price and valuation.
	amounts := amountToken.FindAllString(stripPercents(rest), -1)
	if len(amounts) < 3 {
		return patrimoine.Position{}, false
	}

	quantite := patrimoine.ParseQuantity(amounts[0])
	prix := patrimoine.ParseAmount(amounts[1])
	expected := prix.Mul(quantite)

	valeur := patrimoine.ParseAmount(amounts[2])
	best := valeur.Sub(expected).Abs()
	for _, a := range amounts[3:] {
		candidate := patrimoine.ParseAmount(a)
		if gap := candidate.Sub(expected).Abs(); gap.LessThan(best) {
			valeur, best = candidate, gap
		}
	}
	if !valeur.IsPositive() {
		return patrimoine.Position{}, false
	}

	return patrimoine.Position{
		Nom:      nom,
		Ticker:   isin,
		Quantite: quantite,
		Prix:     prix,
		Valeur:   valeur,
	}, true
}

// stripPercents removes percentage tokens so variation columns never get
// mistaken for amounts.
var percentToken = regexp.MustCompile(`[+-]?\d+(?:,\d+)?\s*%`)

func stripPercents(s string) string {
	return percentToken.ReplaceAllString(s, "")
}

// extractCashBalance reads the cash balance from the total valuation formula
// "T € = P € + C € = ..." where C, the third amount, is the cash part. Falls
// back to a "Solde ... : X €" line.
func extractCashBalance(text string) patrimoine.Money {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if !strings.Contains(strings.ToLower(line), "valorisation totale") {
			continue
		}
		for _, candidate := range lines[i : min(i+2, len(lines))] {
			amounts := euroAmounts(candidate)
			if len(amounts) >= 3 {
				return amounts[2]
			}
		}
	}

	if m := soldeLine.FindStringSubmatch(text); m != nil {
		return patrimoine.ParseAmount(m[1])
	}
	return patrimoine.EUR(0)
}

var (
	euroToken = regexp.MustCompile(`([\d \x{00a0}]+(?:,\d+)?)\s*€`)
	soldeLine = regexp.MustCompile(`(?i)Solde[^\n]*?:([^€\n]+)€`)
)

func euroAmounts(line string) []patrimoine.Money {
	var amounts []patrimoine.Money
	for _, m := range euroToken.FindAllStringSubmatch(line, -1) {
		amounts = append(amounts, patrimoine.ParseAmount(m[1]))
	}
	return amounts
}

// Validate reports reconciliation gaps beyond one euro (statement rounding is
// coarser than a cent), structurally invalid ISINs, and negative values.
func (p PEA) Validate(result *patrimoine.ParseResult) []string {
	var anomalies []string

	recomputed := result.Reconciled()
	if !result.Montant.Within(recomputed, patrimoine.EUR(1)) {
		anomalies = append(anomalies, fmt.Sprintf(
			"valuation gap: computed %s vs declared %s", recomputed, result.Montant))
	}
	for _, pos := range result.Positions {
		if pos.Ticker != "" && !patrimoine.IsValidISIN(pos.Ticker) {
			anomalies = append(anomalies, fmt.Sprintf("suspicious ISIN for %s: %s", pos.Nom, pos.Ticker))
		}
		if pos.Valeur.IsNegative() {
			anomalies = append(anomalies, fmt.Sprintf("negative value for position %s", pos.Nom))
		}
	}
	if result.Montant.IsNegative() {
		anomalies = append(anomalies, fmt.Sprintf("negative total amount: %s", result.Montant))
	}
	return anomalies
}
