// Package bitstack parses the CSV transaction history exported by the
// Bitstack bitcoin savings app. The export is a full-year transaction log,
// not a balance statement: the BTC balance is rebuilt by replaying it.
package bitstack

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/etnz/patrimoine"
)

// HistoryStrategy identifies the Bitstack transaction history format.
const HistoryStrategy = "bitstack.transaction_history.v2025"

// requiredColumns must all be present in the export header.
var requiredColumns = []string{"Type", "Date", "Montant reçu", "Monnaie ou jeton reçu"}

// History replays a year of Bitstack transactions into one BTC balance
// position. The position is quoted in BTC; the euro valuation happens later
// in the pipeline with a live price.
type History struct{}

func (History) StrategyName() string       { return HistoryStrategy }
func (History) SupportedFormats() []string { return []string{"csv"} }

// CanParse requires the Bitstack filename convention ("[BIT] - *.csv") and
// the expected transaction columns; both present is full confidence.
func (h History) CanParse(path string, meta patrimoine.AccountMetadata) float64 {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "[BIT]") || !strings.EqualFold(filepath.Ext(base), ".csv") {
		return 0.0
	}
	header, err := readHeader(path)
	if err != nil {
		return 0.0
	}
	for _, col := range requiredColumns {
		if !slices.Contains(header, col) {
			return 0.0
		}
	}
	return 1.0
}

var yearToken = regexp.MustCompile(`\d{4}`)

func (h History) Parse(path string, meta patrimoine.AccountMetadata) (*patrimoine.ParseResult, error) {
	records, err := readAll(path)
	if err != nil {
		return nil, &patrimoine.ParsingError{Strategy: HistoryStrategy, Path: path, Err: err}
	}
	if len(records) < 1 {
		return nil, &patrimoine.ParsingError{Strategy: HistoryStrategy, Path: path,
			Err: fmt.Errorf("empty transaction history")}
	}

	col := make(map[string]int)
	for i, name := range records[0] {
		col[strings.TrimSpace(name)] = i
	}
	for _, required := range requiredColumns {
		if _, ok := col[required]; !ok {
			return nil, &patrimoine.ParsingError{Strategy: HistoryStrategy, Path: path,
				Err: fmt.Errorf("missing column %q", required)}
		}
	}

	cell := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	balance := patrimoine.Q(0)
	transactions := 0
	for _, record := range records[1:] {
		switch cell(record, "Type") {
		case "Échange", "Dépôt":
			// BTC bought or received.
			if cell(record, "Monnaie ou jeton reçu") != "BTC" {
				continue
			}
			received := patrimoine.ParseQuantity(cell(record, "Montant reçu"))
			if received.IsPositive() {
				balance = balance.Add(received)
				transactions++
			}
		case "Retrait":
			// BTC sent to an external wallet.
			if cell(record, "Monnaie ou jeton envoyé") != "BTC" {
				continue
			}
			sent := patrimoine.ParseQuantity(cell(record, "Montant envoyé"))
			if sent.IsPositive() {
				balance = balance.Sub(sent)
				transactions++
			}
		}
	}

	log.Printf("replayed %d BTC transaction(s) from %q, balance %s", transactions, filepath.Base(path), balance)

	nom := "Bitcoin"
	if year := yearToken.FindString(filepath.Base(path)); year != "" {
		nom = "Bitcoin " + year
	}
	return &patrimoine.ParseResult{
		Type: "Crypto",
		Positions: []patrimoine.Position{{
			Nom:      nom,
			Ticker:   "BTC",
			Devise:   "BTC",
			Quantite: balance,
		}},
	}, nil
}

// Validate flags a negative replayed balance, which means withdrawals exceed
// recorded acquisitions and the history is incomplete.
func (h History) Validate(result *patrimoine.ParseResult) []string {
	var anomalies []string
	if len(result.Positions) == 0 {
		anomalies = append(anomalies, "no balance position produced")
		return anomalies
	}
	for _, pos := range result.Positions {
		if pos.Quantite.IsNegative() {
			anomalies = append(anomalies, fmt.Sprintf(
				"negative BTC balance %s: transaction history looks incomplete", pos.Quantite))
		}
	}
	return anomalies
}

func readHeader(path string) ([]string, error) {
	records, err := readAll(path)
	if err != nil || len(records) == 0 {
		return nil, fmt.Errorf("cannot read header of %q: %w", path, err)
	}
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}
	return header, nil
}

func readAll(path string) ([][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(string(raw), "\ufeff")))
	r.FieldsPerRecord = -1
	return r.ReadAll()
}
