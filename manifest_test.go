package patrimoine

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validManifest() *Manifest {
	return &Manifest{
		Version: ManifestVersion,
		Profil: Profile{
			Identite:       map[string]any{"nom": "Dupont"},
			Professionnel:  map[string]any{"statut": "salarié"},
			Investissement: Investissement{ProfilRisque: "equilibre"},
		},
		Patrimoine: ManifestPatrimoine{
			ComptesTitres: []Account{{
				ID:             "pea_ca",
				Custodian:      "credit_agricole",
				TypeCompte:     "PEA",
				SourceFile:     "pea.pdf",
				ParserStrategy: "credit_agricole.pea.v2025",
			}},
		},
	}
}

func TestManifest_Validate(t *testing.T) {
	if err := validManifest().Validate(); err != nil {
		t.Fatalf("valid manifest rejected: %v", err)
	}
}

func TestManifest_Validate_AccumulatesViolations(t *testing.T) {
	m := validManifest()
	m.Version = "1.0.0"
	m.Profil.Identite = nil
	m.Patrimoine.ComptesTitres[0].TypeCompte = ""
	m.Patrimoine.ComptesTitres[0].SourceFile = ""

	err := m.Validate()
	var ve *ManifestValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want *ManifestValidationError, got %v", err)
	}
	// Every violation is reported at once, not just the first.
	if len(ve.Violations) != 4 {
		t.Errorf("got %d violations, want 4: %v", len(ve.Violations), ve.Violations)
	}
	for _, fragment := range []string{"version", "identite", "type_compte", "source_file or source_pattern"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("violations miss %q:\n%v", fragment, err)
		}
	}
}

func TestManifest_Validate_DuplicateIDs(t *testing.T) {
	m := validManifest()
	m.Patrimoine.Crypto = []CryptoAccount{{
		ID:             "pea_ca", // clashes with the securities account
		Plateforme:     "bitstack",
		SourceFile:     "[BIT] - 2024.csv",
		ParserStrategy: "bitstack.transaction_history.v2025",
	}}

	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "duplicate account id") {
		t.Errorf("duplicate id across categories not detected: %v", err)
	}
}

func TestManifest_Validate_CryptoNeedsBalancesOrStrategy(t *testing.T) {
	m := validManifest()
	m.Patrimoine.Crypto = []CryptoAccount{{Plateforme: "ledger"}}

	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "parser_strategy or declared soldes") {
		t.Errorf("crypto account with nothing to value not detected: %v", err)
	}
}

func TestManifest_Validate_EmptyPatrimoine(t *testing.T) {
	m := validManifest()
	m.Patrimoine = ManifestPatrimoine{}

	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "no asset declared") {
		t.Errorf("empty patrimoine not detected: %v", err)
	}
}

func TestManifest_Validate_RiskProfile(t *testing.T) {
	m := validManifest()
	m.Profil.Investissement.ProfilRisque = "yolo"

	err := m.Validate()
	if err == nil || !strings.Contains(err.Error(), "profil_risque") {
		t.Errorf("invalid risk profile not detected: %v", err)
	}
}

func TestLoadManifest_NotFound(t *testing.T) {
	_, err := LoadManifest(filepath.Join(t.TempDir(), "missing.json"))
	var nf *ManifestNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want *ManifestNotFoundError, got %v", err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	raw, err := json.Marshal(validManifest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Version != ManifestVersion || len(m.Patrimoine.ComptesTitres) != 1 {
		t.Errorf("manifest round trip lost data: %+v", m)
	}
}

func TestInvestissement_ExtraFieldsRoundTrip(t *testing.T) {
	in := `{"profil_risque":"prudent","horizon":"10 ans","tolerance_perte":"faible"}`
	var inv Investissement
	if err := json.Unmarshal([]byte(in), &inv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.ProfilRisque != "prudent" || inv.Horizon != "10 ans" {
		t.Errorf("typed fields lost: %+v", inv)
	}
	if inv.Extra["tolerance_perte"] != "faible" {
		t.Errorf("extra field lost: %v", inv.Extra)
	}

	out, err := json.Marshal(inv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != in {
		t.Errorf("got  %s\nwant %s", out, in)
	}
}

func TestAccount_Strategies(t *testing.T) {
	a := Account{ParserStrategy: "main", FallbackParsers: []string{"fb1", "fb2"}}
	got := a.Strategies()
	want := []string{"main", "fb1", "fb2"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("got %v, want %v", got, want)
	}
}
