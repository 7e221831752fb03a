package patrimoine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// fakePrices is a scriptable price source.
type fakePrices struct {
	prices map[string]Money // euro price per unit, per ticker
}

func (f *fakePrices) ConvertToEUR(ticker string, qty Quantity) (Money, error) {
	price, ok := f.prices[ticker]
	if !ok {
		return Money{}, fmt.Errorf("no price for %s", ticker)
	}
	return price.Mul(qty), nil
}

// testRun wires a normalizer over temp directories with one fake strategy.
type testRun struct {
	cfg    Config
	parser *fakeParser
	prices *fakePrices
}

func newTestRun(t *testing.T) *testRun {
	t.Helper()
	root := t.TempDir()
	return &testRun{
		cfg: Config{
			SourcesDir:   filepath.Join(root, "sources"),
			GeneratedDir: filepath.Join(root, "generated"),
			CacheDir:     filepath.Join(root, "cache"),
		},
		parser: &fakeParser{name: "fake.csv.v1", formats: []string{"csv"}, result: okResult(EUR(1000))},
		prices: &fakePrices{prices: map[string]Money{}},
	}
}

func (r *testRun) writeSource(t *testing.T, name, content string) {
	t.Helper()
	path := filepath.Join(r.cfg.SourcesDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (r *testRun) writeManifest(t *testing.T, m *Manifest) {
	t.Helper()
	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r.writeSource(t, "manifest.json", string(raw))
}

func (r *testRun) normalize(t *testing.T) (*Document, error) {
	t.Helper()
	reg := NewRegistry()
	reg.Register(r.parser)
	n, err := NewNormalizer(r.cfg, reg, r.prices)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return n.Normalize()
}

func testRunManifest() *Manifest {
	return &Manifest{
		Version: ManifestVersion,
		Profil: Profile{
			Identite:       map[string]any{"nom": "Dupont"},
			Professionnel:  map[string]any{"statut": "salarié"},
			Investissement: Investissement{ProfilRisque: "equilibre"},
		},
		Patrimoine: ManifestPatrimoine{
			ComptesTitres: []Account{{
				ID:             "cto_bourso",
				Custodian:      "boursorama",
				TypeCompte:     "CTO",
				SourceFile:     "positions.csv",
				ParserStrategy: "fake.csv.v1",
			}},
			Liquidites: []DeclaredAsset{{
				Custodian: "boursorama", Nom: "Livret A", Type: "Livret A", Montant: EUR(22950),
			}},
			Crypto: []CryptoAccount{{
				Plateforme: "ledger",
				Soldes:     []CryptoBalance{{Ticker: "BTC", Quantite: Q(0.5), ValeurEUR: EUR(30000)}},
			}},
		},
	}
}

func TestNormalizer_Normalize(t *testing.T) {
	r := newTestRun(t)
	r.writeSource(t, "positions.csv", "whatever")
	r.writeManifest(t, testRunManifest())

	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The parsed account and the declared savings merge under one custodian.
	if len(doc.Patrimoine.Financier.Etablissements) != 1 {
		t.Fatalf("etablissements = %d, want 1", len(doc.Patrimoine.Financier.Etablissements))
	}
	e := doc.Patrimoine.Financier.Etablissements[0]
	if e.Code != "boursorama" || len(e.Comptes) != 2 {
		t.Errorf("etablissement = %+v", e)
	}
	if want := EUR(23950); !e.Total.Equal(want) {
		t.Errorf("etablissement total = %s, want %s", e.Total, want)
	}

	// No live BTC price: the declared euro value is used.
	if want := EUR(30000); !doc.Patrimoine.Crypto.Total.Equal(want) {
		t.Errorf("crypto total = %s, want %s", doc.Patrimoine.Crypto.Total, want)
	}

	if !reflect.DeepEqual(doc.Sources, []string{"positions.csv"}) {
		t.Errorf("sources = %v", doc.Sources)
	}

	// The canonical document is on disk.
	raw, err := os.ReadFile(filepath.Join(r.cfg.GeneratedDir, DefaultOutputFile))
	if err != nil {
		t.Fatalf("output not written: %v", err)
	}
	var onDisk Document
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		t.Fatalf("output not decodable: %v", err)
	}
	if !onDisk.Patrimoine.Total.Equal(doc.Patrimoine.Total) {
		t.Errorf("on-disk total %s differs from returned %s", onDisk.Patrimoine.Total, doc.Patrimoine.Total)
	}
}

func TestNormalizer_Idempotent(t *testing.T) {
	r := newTestRun(t)
	r.writeSource(t, "positions.csv", "whatever")
	r.writeManifest(t, testRunManifest())

	first, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Identical inputs produce identical documents, timestamp aside.
	first.Meta.GeneratedAt, second.Meta.GeneratedAt = "", ""
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("documents differ:\n%s\n%s", a, b)
	}
}

func TestNormalizer_PathTraversal(t *testing.T) {
	r := newTestRun(t)
	m := testRunManifest()
	m.Patrimoine.ComptesTitres[0].SourceFile = "../../../etc/passwd"
	r.writeManifest(t, m)

	_, err := r.normalize(t)
	var se *SecurityError
	if !errors.As(err, &se) {
		t.Fatalf("want *SecurityError, got %v", err)
	}
}

func TestNormalizer_CryptoLivePriceWins(t *testing.T) {
	r := newTestRun(t)
	r.writeSource(t, "positions.csv", "whatever")
	r.writeManifest(t, testRunManifest())
	r.prices.prices["BTC"] = EUR(100000)

	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.5 BTC at the live price, not the declared 30000.
	if want := EUR(50000); !doc.Patrimoine.Crypto.Total.Equal(want) {
		t.Errorf("crypto total = %s, want %s", doc.Patrimoine.Crypto.Total, want)
	}
}

func TestNormalizer_CryptoWithoutAnyValueIsZero(t *testing.T) {
	r := newTestRun(t)
	r.writeSource(t, "positions.csv", "whatever")
	m := testRunManifest()
	m.Patrimoine.Crypto[0].Soldes[0].ValeurEUR = Money{}
	r.writeManifest(t, m)

	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !doc.Patrimoine.Crypto.Total.IsZero() {
		t.Errorf("crypto total = %s, want 0", doc.Patrimoine.Crypto.Total)
	}
}

func TestNormalizer_CryptoParsedValueFallback(t *testing.T) {
	r := newTestRun(t)
	r.writeSource(t, "history.csv", "whatever")
	// The parsed position already carries a euro value.
	r.parser.result = &ParseResult{
		Type: "Crypto",
		Positions: []Position{
			{Nom: "Bitcoin 2024", Ticker: "BTC", Devise: "BTC", Quantite: Q(0.5), Valeur: EUR(1234.56)},
		},
	}
	m := testRunManifest()
	m.Patrimoine = ManifestPatrimoine{
		Crypto: []CryptoAccount{{
			ID:             "btc_bitstack",
			Plateforme:     "bitstack",
			SourceFile:     "history.csv",
			ParserStrategy: "fake.csv.v1",
		}},
	}
	r.writeManifest(t, m)

	// No live price: the value parsed from the document must survive.
	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := EUR(1234.56); !doc.Patrimoine.Crypto.Total.Equal(want) {
		t.Errorf("crypto total = %s, want %s", doc.Patrimoine.Crypto.Total, want)
	}
	p := doc.Patrimoine.Crypto.Plateformes[0]
	if len(p.Soldes) != 1 || p.Soldes[0].Nom != "Bitcoin 2024" {
		t.Errorf("soldes = %+v, want the parsed position name kept", p.Soldes)
	}

	// With a live price, the quoted valuation wins over the parsed value.
	r.prices.prices["BTC"] = EUR(100000)
	doc, err = r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := EUR(50000); !doc.Patrimoine.Crypto.Total.Equal(want) {
		t.Errorf("crypto total = %s, want %s", doc.Patrimoine.Crypto.Total, want)
	}
}

func TestNormalizer_FailingAccountIsDropped(t *testing.T) {
	r := newTestRun(t)
	r.writeSource(t, "positions.csv", "whatever")
	r.writeManifest(t, testRunManifest())
	r.parser.err = fmt.Errorf("scripted failure")

	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("one bad account must not abort the run: %v", err)
	}
	// Only the declared savings remain under the custodian.
	e := doc.Patrimoine.Financier.Etablissements[0]
	if len(e.Comptes) != 1 || e.Comptes[0].Type != "Livret A" {
		t.Errorf("comptes = %+v", e.Comptes)
	}
	if len(doc.Sources) != 0 {
		t.Errorf("a dropped file must not be referenced: %v", doc.Sources)
	}
}

func TestNormalizer_MissingSourceFileIsDropped(t *testing.T) {
	r := newTestRun(t)
	r.writeManifest(t, testRunManifest())
	// positions.csv never written: the account is dropped with a warning.

	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := doc.Patrimoine.Financier.Etablissements[0]
	if len(e.Comptes) != 1 {
		t.Errorf("comptes = %+v", e.Comptes)
	}
}

func TestNormalizer_HistoricalYearIsCached(t *testing.T) {
	r := newTestRun(t)
	lastYear := time.Now().Year() - 1
	name := fmt.Sprintf("positions_%d.csv", lastYear)
	r.writeSource(t, name, "whatever")

	m := testRunManifest()
	m.Patrimoine.ComptesTitres[0].SourceFile = name
	m.Patrimoine.ComptesTitres[0].CacheHistoricalYears = true
	r.writeManifest(t, m)

	if _, err := r.normalize(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.parser.parsed != 1 {
		t.Fatalf("parsed %d times, want 1", r.parser.parsed)
	}

	// Second run hits the cache: the parser never runs again, even broken.
	r.parser.err = fmt.Errorf("scripted failure")
	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.parser.parsed != 1 {
		t.Errorf("parsed %d times, want still 1", r.parser.parsed)
	}
	if want := EUR(23950); !doc.Patrimoine.Financier.Total.Equal(want) {
		t.Errorf("financier total = %s, want %s", doc.Patrimoine.Financier.Total, want)
	}
}

func TestNormalizer_CurrentYearIsNotCached(t *testing.T) {
	r := newTestRun(t)
	name := fmt.Sprintf("positions_%d.csv", time.Now().Year())
	r.writeSource(t, name, "whatever")

	m := testRunManifest()
	m.Patrimoine.ComptesTitres[0].SourceFile = name
	m.Patrimoine.ComptesTitres[0].CacheHistoricalYears = true
	r.writeManifest(t, m)

	if _, err := r.normalize(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.normalize(t); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// The current year can still change: both runs parse.
	if r.parser.parsed != 2 {
		t.Errorf("parsed %d times, want 2", r.parser.parsed)
	}
}

func TestNormalizer_DirectoryEnrichment(t *testing.T) {
	r := newTestRun(t)
	r.writeSource(t, "positions.csv", "whatever")
	r.writeSource(t, "etablissements_financiers.json",
		`{"boursorama":{"nom":"BoursoBank","pays":"France","url":"https://www.boursobank.com"}}`)
	r.writeManifest(t, testRunManifest())

	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := doc.Patrimoine.Financier.Etablissements[0]
	if e.Nom != "BoursoBank" || e.Pays != "France" {
		t.Errorf("enrichment not applied: %+v", e)
	}
}

func TestNormalizer_SourcePattern(t *testing.T) {
	r := newTestRun(t)
	r.writeSource(t, "releve_a.csv", "a")
	r.writeSource(t, "releve_b.csv", "b")
	m := testRunManifest()
	m.Patrimoine.ComptesTitres[0].SourceFile = ""
	m.Patrimoine.ComptesTitres[0].SourcePattern = "releve_*.csv"
	r.writeManifest(t, m)

	doc, err := r.normalize(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"releve_a.csv", "releve_b.csv"}; !reflect.DeepEqual(doc.Sources, want) {
		t.Errorf("sources = %v, want %v", doc.Sources, want)
	}
	if r.parser.parsed != 2 {
		t.Errorf("parsed %d files, want 2", r.parser.parsed)
	}
}
