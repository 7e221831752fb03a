package patrimoine

import (
	"encoding/json"
	"strings"
	"unicode"
)

// AccountMetadata is the per-account context handed to parsers alongside the
// file path. It comes from the manifest entry being parsed.
type AccountMetadata struct {
	Custodian   string
	AccountType string
	Extra       map[string]string
}

// Parser is the contract every institution/format parser implements.
// The convention for strategy names is {institution}.{account_type}.{version},
// e.g. "credit_agricole.pea.v2025".
type Parser interface {
	// StrategyName returns the unique identifier of this parser.
	StrategyName() string

	// SupportedFormats lists the file formats this parser handles ("pdf", "csv").
	SupportedFormats() []string

	// CanParse returns a confidence score in [0.0, 1.0] that this parser can
	// handle the file. It must never fail: implementations inspect the file
	// content and return 0.0 on any doubt or I/O error. The score is a
	// weighted sum of independent heuristic signals, capped at 1.0.
	CanParse(path string, meta AccountMetadata) float64

	// Parse extracts a normalized result from the file. On failure it returns
	// a *ParsingError; it never returns partially-built data silently.
	Parse(path string, meta AccountMetadata) (*ParseResult, error)

	// Validate checks a parse result and returns human-readable anomaly
	// descriptions (empty when clean). Anomalies are advisory: a
	// reconciliation gap or a suspicious ISIN is logged, not fatal.
	Validate(result *ParseResult) []string
}

// Position is one line of an account: a security, fund or coin holding.
type Position struct {
	Nom      string
	Ticker   string
	Devise   string // quoted currency for crypto positions (e.g. "BTC")
	Quantite Quantity
	Prix     Money
	Valeur   Money
}

// MarshalJSON keeps the canonical field order and omits absent optionals.
func (p Position) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("nom", p.Nom)
	w.Optional("ticker", p.Ticker)
	w.Optional("devise", p.Devise)
	w.Optional("quantite", p.Quantite)
	w.Optional("prix", p.Prix)
	w.Append("valeur", p.Valeur)
	return w.MarshalJSON()
}

func (p *Position) UnmarshalJSON(data []byte) error {
	var aux struct {
		Nom      string    `json:"nom"`
		Ticker   string    `json:"ticker"`
		Devise   string    `json:"devise"`
		Quantite *Quantity `json:"quantite"`
		Prix     *Money    `json:"prix"`
		Valeur   *Money    `json:"valeur"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Nom, p.Ticker, p.Devise = aux.Nom, aux.Ticker, aux.Devise
	if aux.Quantite != nil {
		p.Quantite = *aux.Quantite
	}
	if aux.Prix != nil {
		p.Prix = *aux.Prix
	}
	if aux.Valeur != nil {
		p.Valeur = *aux.Valeur
	}
	return nil
}

// ParsingMetadata records how a result was obtained. It stays attached to the
// parse result (and its cache entry) but is not carried into the canonical
// document, which must be stable across identical runs.
type ParsingMetadata struct {
	ParserUsed string   `json:"parser_used"`
	ParsedAt   string   `json:"parsed_at"`
	Warnings   []string `json:"warnings"`
}

// ParseResult is the normalized output of a single parsed document.
// Invariant: Montant should equal the sum of position values plus the cash
// balance; a violation is a reconciliation anomaly, advisory not fatal.
type ParseResult struct {
	Type         string
	Montant      Money
	Positions    []Position
	SoldeEspeces Money
	Fonds        []Position
	Parsing      ParsingMetadata
}

func (r ParseResult) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("type", r.Type)
	w.Append("montant", r.Montant)
	w.Append("positions", r.Positions)
	w.Optional("solde_especes", r.SoldeEspeces)
	if len(r.Fonds) > 0 {
		w.Append("fonds", r.Fonds)
	}
	w.Append("metadata_parsing", r.Parsing)
	return w.MarshalJSON()
}

func (r *ParseResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		Type         string          `json:"type"`
		Montant      *Money          `json:"montant"`
		Positions    []Position      `json:"positions"`
		SoldeEspeces *Money          `json:"solde_especes"`
		Fonds        []Position      `json:"fonds"`
		Parsing      ParsingMetadata `json:"metadata_parsing"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Type, r.Positions, r.Fonds, r.Parsing = aux.Type, aux.Positions, aux.Fonds, aux.Parsing
	if aux.Montant != nil {
		r.Montant = *aux.Montant
	} else {
		r.Montant = Money{}
	}
	if aux.SoldeEspeces != nil {
		r.SoldeEspeces = *aux.SoldeEspeces
	} else {
		r.SoldeEspeces = Money{}
	}
	return nil
}

// Reconciled returns the recomputed account amount: positions plus cash.
func (r *ParseResult) Reconciled() Money {
	total := EUR(0)
	for _, p := range r.Positions {
		total = total.Add(p.Valeur)
	}
	for _, f := range r.Fonds {
		total = total.Add(f.Valeur)
	}
	return total.Add(r.SoldeEspeces)
}

// IsValidISIN checks the structure of an ISIN code: two country letters
// followed by ten alphanumerics. It does not verify the Luhn check digit.
func IsValidISIN(isin string) bool {
	if len(isin) != 12 {
		return false
	}
	for i, r := range isin {
		switch {
		case i < 2:
			if !unicode.IsLetter(r) {
				return false
			}
		default:
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}

// ParseQuantity converts a numeric string into a Quantity using the same
// French/US conventions as [ParseAmount].
func ParseQuantity(s string) Quantity {
	var q Quantity
	m := ParseAmount(s)
	if err := q.UnmarshalJSON([]byte(m.value.String())); err != nil {
		return Q(0)
	}
	return q
}

// ParseAmount converts a monetary string into a Money, accepting both French
// ("12 345,67 €") and US ("1,234.56") conventions. Unparseable input yields
// zero: statement amounts are advisory until reconciliation.
func ParseAmount(s string) Money {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "") // non-breaking space used as thousands separator
	s = strings.NewReplacer("€", "", "$", "", "USD", "", "EUR", "").Replace(s)

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		// French: 1.234,56
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case comma >= 0 && dot >= 0:
		// US: 1,234.56
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		// Lone comma is a French decimal separator.
		s = strings.ReplaceAll(s, ",", ".")
	}

	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" {
		return EUR(0)
	}
	var m Money
	if err := m.UnmarshalJSON([]byte(cleaned)); err != nil {
		return EUR(0)
	}
	return m
}
