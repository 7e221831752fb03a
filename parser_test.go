package patrimoine

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Money
	}{
		{"french decimals", "12345,67", EUR(12345.67)},
		{"french with spaces", "12 345,67 €", EUR(12345.67)},
		{"french with nbsp", "12\u00a0345,67\u00a0€", EUR(12345.67)},
		{"french with dot thousands", "1.234,56", EUR(1234.56)},
		{"us format", "1,234.56", EUR(1234.56)},
		{"plain integer", "800", EUR(800)},
		{"dollar sign", "$99.90", EUR(99.90)},
		{"eur suffix", "42 EUR", EUR(42)},
		{"negative", "-1 500,00 €", EUR(-1500)},
		{"garbage", "n/a", EUR(0)},
		{"empty", "", EUR(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAmount(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseQuantity(t *testing.T) {
	got := ParseQuantity("0,12345678")
	if !got.Equal(Q(0.12345678)) {
		t.Errorf("got %s, want 0.12345678", got)
	}
}

func TestIsValidISIN(t *testing.T) {
	tests := []struct {
		isin string
		want bool
	}{
		{"FR0000120404", true},
		{"US0378331005", true},
		{"LU1681043599", true},
		{"FR000012040", false},   // too short
		{"FR00001204040", false}, // too long
		{"1R0000120404", false},  // digit in country code
		{"FR00001204-4", false},  // invalid character
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.isin, func(t *testing.T) {
			if got := IsValidISIN(tt.isin); got != tt.want {
				t.Errorf("IsValidISIN(%q) = %v, want %v", tt.isin, got, tt.want)
			}
		})
	}
}

func TestParseResult_MarshalJSON(t *testing.T) {
	r := ParseResult{
		Type:    "PEA",
		Montant: EUR(962.40),
		Positions: []Position{
			{Nom: "AIR LIQUIDE", Ticker: "FR0000120073", Quantite: Q(5), Prix: EUR(172.48), Valeur: EUR(862.40)},
		},
		SoldeEspeces: EUR(100),
	}
	got, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"type":"PEA","montant":962.4,"positions":[{"nom":"AIR LIQUIDE","ticker":"FR0000120073","quantite":5,"prix":172.48,"valeur":862.4}],"solde_especes":100,"metadata_parsing":{"parser_used":"","parsed_at":"","warnings":null}}`
	if string(got) != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}

	var back ParseResult
	if err := json.Unmarshal(got, &back); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !back.Montant.Equal(r.Montant) || len(back.Positions) != 1 || !back.SoldeEspeces.Equal(r.SoldeEspeces) {
		t.Errorf("round trip mismatch: %+v", back)
	}
}

func TestParseResult_Reconciled(t *testing.T) {
	r := ParseResult{
		Montant:      EUR(1000),
		Positions:    []Position{{Nom: "A", Valeur: EUR(600)}, {Nom: "B", Valeur: EUR(250)}},
		Fonds:        []Position{{Nom: "F", Valeur: EUR(100)}},
		SoldeEspeces: EUR(50),
	}
	if got := r.Reconciled(); !got.Equal(EUR(1000)) {
		t.Errorf("got %s, want 1000", got)
	}
}

func TestPosition_OmitsAbsentFields(t *testing.T) {
	// A fund line has no ticker, quantity or price; only name and value remain.
	p := Position{Nom: "FONDS EURO", Valeur: EUR(58100.39)}
	got, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := `{"nom":"FONDS EURO","valeur":58100.39}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
