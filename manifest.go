package patrimoine

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"slices"
)

// ManifestVersion is the only manifest schema version this pipeline accepts.
const ManifestVersion = "2.0.0"

var riskProfiles = []string{"dynamique", "equilibre", "prudent", "default"}

// Manifest is the single required external input of a normalization run: it
// enumerates the investor's accounts and assets and how to parse each one.
// It is read once per run and never mutated.
type Manifest struct {
	Version    string             `json:"version"`
	Profil     Profile            `json:"profil_investisseur"`
	Patrimoine ManifestPatrimoine `json:"patrimoine"`
}

// Profile describes the investor. It flows unchanged into the canonical
// document; only its structure is validated here.
type Profile struct {
	Identite       map[string]any `json:"identite"`
	Professionnel  map[string]any `json:"professionnel"`
	Investissement Investissement `json:"investissement"`
}

type Investissement struct {
	ProfilRisque string         `json:"profil_risque"`
	Horizon      string         `json:"horizon,omitempty"`
	Objectifs    []string       `json:"objectifs,omitempty"`
	Extra        map[string]any `json:"-"`
}

// ManifestPatrimoine lists asset declarations per category. Accounts are
// parsed from source documents; the other categories carry fixed
// EUR-equivalent amounts declared by hand.
type ManifestPatrimoine struct {
	ComptesTitres  []Account       `json:"comptes_titres"`
	Liquidites     []DeclaredAsset `json:"liquidites"`
	Crypto         []CryptoAccount `json:"crypto"`
	MetauxPrecieux []DeclaredAsset `json:"metaux_precieux"`
	Immobilier     []Property      `json:"immobilier"`
	Obligations    []DeclaredAsset `json:"obligations"`
}

// Account is a parsed-account declaration: which custodian holds it, where
// its source documents are, and which parser strategies to try in order.
// Invariant: it carries a literal source file or a glob pattern, never neither.
type Account struct {
	ID                   string            `json:"id"`
	Custodian            string            `json:"custodian"`
	CustodianName        string            `json:"custodian_name,omitempty"`
	TypeCompte           string            `json:"type_compte"`
	SourceFile           string            `json:"source_file,omitempty"`
	SourcePattern        string            `json:"source_pattern,omitempty"`
	ParserStrategy       string            `json:"parser_strategy"`
	FallbackParsers      []string          `json:"fallback_parsers,omitempty"`
	CacheHistoricalYears bool              `json:"cache_historical_years,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// Strategies returns the fallback chain in manifest order: the declared
// strategy first, then the fallbacks. This order is authoritative at parse
// time; auto-detection confidence scores are advisory only.
func (a Account) Strategies() []string {
	return append([]string{a.ParserStrategy}, a.FallbackParsers...)
}

// Meta builds the parser-facing metadata for this account.
func (a Account) Meta() AccountMetadata {
	return AccountMetadata{Custodian: a.Custodian, AccountType: a.TypeCompte, Extra: a.Metadata}
}

// CryptoAccount is either a parsed crypto account (same shape as Account,
// platform instead of custodian) or a list of declared coin balances valued
// at normalization time.
type CryptoAccount struct {
	ID                   string            `json:"id"`
	Plateforme           string            `json:"plateforme"`
	SourceFile           string            `json:"source_file,omitempty"`
	SourcePattern        string            `json:"source_pattern,omitempty"`
	ParserStrategy       string            `json:"parser_strategy,omitempty"`
	FallbackParsers      []string          `json:"fallback_parsers,omitempty"`
	CacheHistoricalYears bool              `json:"cache_historical_years,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	Soldes               []CryptoBalance   `json:"soldes,omitempty"`
}

func (c CryptoAccount) parsed() bool { return c.ParserStrategy != "" }

func (c CryptoAccount) Strategies() []string {
	return append([]string{c.ParserStrategy}, c.FallbackParsers...)
}

func (c CryptoAccount) Meta() AccountMetadata {
	return AccountMetadata{Custodian: c.Plateforme, AccountType: "Crypto", Extra: c.Metadata}
}

// CryptoBalance is a declared coin balance. ValeurEUR, when set, serves as
// the valuation fallback if no live price is available.
type CryptoBalance struct {
	Ticker    string   `json:"ticker"`
	Quantite  Quantity `json:"quantite"`
	ValeurEUR Money    `json:"valeur_eur,omitempty"`
}

// DeclaredAsset is a manually declared holding with a fixed EUR amount
// (savings accounts, bonds, precious metals).
type DeclaredAsset struct {
	Custodian     string `json:"custodian,omitempty"`
	CustodianName string `json:"custodian_name,omitempty"`
	Nom           string `json:"nom"`
	Type          string `json:"type,omitempty"`
	Montant       Money  `json:"montant"`
}

// Property is a declared real-estate asset.
type Property struct {
	Nom            string `json:"nom"`
	Adresse        string `json:"adresse,omitempty"`
	ValeurActuelle Money  `json:"valeur_actuelle"`
	CapitalRestant Money  `json:"capital_restant_du,omitempty"`
}

// LoadManifest reads and decodes the manifest file. A missing file is a
// *ManifestNotFoundError: the run cannot proceed without it.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestNotFoundError{Path: path, Err: err}
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("cannot decode manifest %q: %w", path, err)
	}
	return &m, nil
}

// Validate performs the structural checks of the manifest, accumulating every
// violation before failing once with a *ManifestValidationError.
func (m *Manifest) Validate() error {
	var violations []string

	if m.Version != ManifestVersion {
		violations = append(violations, fmt.Sprintf("unsupported manifest version %q (expected %s)", m.Version, ManifestVersion))
	}

	if m.Profil.Identite == nil {
		violations = append(violations, "profil_investisseur.identite section missing")
	}
	if m.Profil.Professionnel == nil {
		violations = append(violations, "profil_investisseur.professionnel section missing")
	}
	switch risque := m.Profil.Investissement.ProfilRisque; {
	case risque == "":
		violations = append(violations, "profil_investisseur.investissement.profil_risque missing")
	case !slices.Contains(riskProfiles, risque):
		violations = append(violations, fmt.Sprintf("invalid profil_risque %q (expected one of %v)", risque, riskProfiles))
	}

	p := m.Patrimoine
	if len(p.ComptesTitres) == 0 && len(p.Liquidites) == 0 && len(p.Crypto) == 0 &&
		len(p.MetauxPrecieux) == 0 && len(p.Immobilier) == 0 && len(p.Obligations) == 0 {
		violations = append(violations, "no asset declared in any patrimoine category")
	}

	seen := make(map[string]bool)
	for i, a := range p.ComptesTitres {
		where := fmt.Sprintf("comptes_titres[%d]", i)
		if a.ID == "" {
			violations = append(violations, where+": id missing")
		} else if seen[a.ID] {
			violations = append(violations, fmt.Sprintf("%s: duplicate account id %q", where, a.ID))
		} else {
			seen[a.ID] = true
		}
		if a.Custodian == "" {
			violations = append(violations, where+": custodian missing")
		}
		if a.TypeCompte == "" {
			violations = append(violations, where+": type_compte missing")
		}
		if a.ParserStrategy == "" {
			violations = append(violations, where+": parser_strategy missing")
		}
		if a.SourceFile == "" && a.SourcePattern == "" {
			violations = append(violations, where+": needs source_file or source_pattern")
		}
	}

	for i, c := range p.Crypto {
		where := fmt.Sprintf("crypto[%d]", i)
		if c.Plateforme == "" {
			violations = append(violations, where+": plateforme missing")
		}
		if c.parsed() {
			if c.ID == "" {
				violations = append(violations, where+": id missing")
			} else if seen[c.ID] {
				violations = append(violations, fmt.Sprintf("%s: duplicate account id %q", where, c.ID))
			} else {
				seen[c.ID] = true
			}
			if c.SourceFile == "" && c.SourcePattern == "" {
				violations = append(violations, where+": needs source_file or source_pattern")
			}
		} else if len(c.Soldes) == 0 {
			violations = append(violations, where+": needs a parser_strategy or declared soldes")
		}
	}

	if len(violations) > 0 {
		return &ManifestValidationError{Violations: violations}
	}
	return nil
}

// MarshalJSON preserves the extra investissement fields alongside the typed ones.
func (inv Investissement) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Append("profil_risque", inv.ProfilRisque)
	w.Optional("horizon", inv.Horizon)
	if len(inv.Objectifs) > 0 {
		w.Append("objectifs", inv.Objectifs)
	}
	for _, k := range slices.Sorted(maps.Keys(inv.Extra)) {
		w.Append(k, inv.Extra[k])
	}
	return w.MarshalJSON()
}

func (inv *Investissement) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["profil_risque"]; ok {
		if err := json.Unmarshal(v, &inv.ProfilRisque); err != nil {
			return err
		}
		delete(raw, "profil_risque")
	}
	if v, ok := raw["horizon"]; ok {
		if err := json.Unmarshal(v, &inv.Horizon); err != nil {
			return err
		}
		delete(raw, "horizon")
	}
	if v, ok := raw["objectifs"]; ok {
		if err := json.Unmarshal(v, &inv.Objectifs); err != nil {
			return err
		}
		delete(raw, "objectifs")
	}
	if len(raw) > 0 {
		inv.Extra = make(map[string]any, len(raw))
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			inv.Extra[k] = val
		}
	}
	return nil
}
