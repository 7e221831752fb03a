package creditagricole

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/etnz/patrimoine"
)

// AVStrategy identifies the life-insurance statement format where every fund
// appears as a name followed by a "Valorisation : X €" annotation.
const AVStrategy = "credit_agricole.av.v2_lignes"

// AV parses Crédit Agricole life-insurance statements. The statement carries
// no per-unit data, only one valuation per fund; the account total is the sum
// of the fund valuations.
type AV struct{}

func (AV) StrategyName() string       { return AVStrategy }
func (AV) SupportedFormats() []string { return []string{"pdf"} }

func (a AV) CanParse(path string, meta patrimoine.AccountMetadata) float64 {
	if !custodianMatches(meta.Custodian) {
		return 0.0
	}
	kind := strings.ToUpper(meta.AccountType)
	if !strings.Contains(kind, "ASSURANCE") && !strings.Contains(kind, "AV") {
		return 0.0
	}

	pages, err := extractPages(path)
	if err != nil || pages[0] == "" {
		return 0.0
	}
	text := strings.ToLower(pages[0])

	score := 0.0
	if strings.Contains(text, "assurance-vie") || strings.Contains(text, "assurance vie") {
		score += 0.4
	}
	if strings.Contains(text, "unités de compte") || strings.Contains(text, "unites de compte") ||
		strings.Contains(text, "fonds euro") || strings.Contains(text, "actif euro") {
		score += 0.2
	}
	if strings.Contains(text, "répartition") {
		score += 0.1
	}
	if strings.Contains(text, "valorisation") {
		score += 0.3
	}
	return min(score, 1.0)
}

func (a AV) Parse(path string, meta patrimoine.AccountMetadata) (*patrimoine.ParseResult, error) {
	pages, err := extractPages(path)
	if err != nil {
		return nil, &patrimoine.ParsingError{Strategy: AVStrategy, Path: path, Err: err}
	}
	result, err := a.parsePages(pages)
	if err != nil {
		return nil, &patrimoine.ParsingError{Strategy: AVStrategy, Path: path, Err: err}
	}
	return result, nil
}

// fundLine matches a fund row: the fund name then its valuation annotation.
var fundLine = regexp.MustCompile(`(?i)^(.*?)\s*Valorisation\s*:\s*([\d \x{00a0},]+)\s*€`)

func (a AV) parsePages(pages []string) (*patrimoine.ParseResult, error) {
	var positions []patrimoine.Position
	var pending string // fund name seen on the line above its valuation

	for _, page := range pages {
		for _, line := range strings.Split(page, "\n") {
			line = strings.TrimSpace(line)
			m := fundLine.FindStringSubmatch(line)
			if m == nil {
				pending = line
				continue
			}
			nom := strings.TrimSpace(m[1])
			if nom == "" {
				nom = pending
			}
			valeur := patrimoine.ParseAmount(m[2])
			if nom != "" && valeur.IsPositive() {
				positions = append(positions, patrimoine.Position{Nom: nom, Valeur: valeur})
			}
			pending = ""
		}
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("no fund valuation found")
	}

	total := patrimoine.EUR(0)
	for _, pos := range positions {
		total = total.Add(pos.Valeur)
	}
	return &patrimoine.ParseResult{
		Type:      "Assurance-vie",
		Montant:   total,
		Positions: positions,
	}, nil
}

func (a AV) Validate(result *patrimoine.ParseResult) []string {
	var anomalies []string

	if len(result.Positions) == 0 {
		anomalies = append(anomalies, "no fund detected in the statement")
	}
	recomputed := result.Reconciled()
	if !result.Montant.Within(recomputed, patrimoine.EUR(1)) {
		anomalies = append(anomalies, fmt.Sprintf(
			"valuation gap: computed %s vs declared %s", recomputed, result.Montant))
	}
	if result.Montant.IsNegative() {
		anomalies = append(anomalies, fmt.Sprintf("negative total amount: %s", result.Montant))
	}
	for _, pos := range result.Positions {
		if pos.Valeur.IsNegative() {
			anomalies = append(anomalies, fmt.Sprintf("negative value for fund %s", pos.Nom))
		}
	}
	return anomalies
}
