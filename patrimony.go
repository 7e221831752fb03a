package patrimoine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DocumentVersion identifies the canonical patrimony document schema.
const DocumentVersion = "2.0.0"

// Document is the canonical aggregated view of the patrimony: one JSON file
// consolidating every parsed account and declared asset, denominated in euros.
// Two runs over identical inputs produce byte-identical documents except for
// the generation timestamp.
type Document struct {
	Meta       DocumentMeta `json:"meta"`
	Profil     Profile      `json:"profil_investisseur"`
	Patrimoine Patrimony    `json:"patrimoine"`
	Sources    []string     `json:"sources_files"`
}

type DocumentMeta struct {
	Version        string `json:"version"`
	GeneratedAt    string `json:"generated_at"`
	SourceManifest string `json:"source_manifest"`
}

// Patrimony is the asset tree. Every Total field is recomputed bottom-up by
// ComputeTotals; values present before the call are overwritten, never trusted.
type Patrimony struct {
	Total          Money           `json:"total"`
	Financier      Financier       `json:"financier"`
	Crypto         CryptoHoldings  `json:"crypto"`
	MetauxPrecieux DeclaredSection `json:"metaux_precieux"`
	Immobilier     RealEstate      `json:"immobilier"`
}

// Financier groups parsed accounts and declared cash per custodian.
type Financier struct {
	Total          Money            `json:"total"`
	Etablissements []*Etablissement `json:"etablissements"`
}

// Etablissement is one financial institution, identified by its manifest
// custodian code. Name and country come from the optional institution
// directory when available, the manifest otherwise.
type Etablissement struct {
	Nom     string    `json:"nom"`
	Code    string    `json:"code"`
	Pays    string    `json:"pays,omitempty"`
	URL     string    `json:"url,omitempty"`
	Total   Money     `json:"total"`
	Comptes []*Compte `json:"comptes"`
}

// Compte is one account inside an institution, parsed or declared.
type Compte struct {
	ID           string
	Type         string
	Montant      Money
	SoldeEspeces Money
	Positions    []Position
	Fonds        []Position
	SourceFile   string
}

func (c Compte) MarshalJSON() ([]byte, error) {
	var w jsonObjectWriter
	w.Optional("id", c.ID)
	w.Append("type", c.Type)
	w.Append("montant", c.Montant)
	w.Optional("solde_especes", c.SoldeEspeces)
	if len(c.Positions) > 0 {
		w.Append("positions", c.Positions)
	}
	if len(c.Fonds) > 0 {
		w.Append("fonds", c.Fonds)
	}
	w.Optional("source_file", c.SourceFile)
	return w.MarshalJSON()
}

func (c *Compte) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID           string     `json:"id"`
		Type         string     `json:"type"`
		Montant      Money      `json:"montant"`
		SoldeEspeces Money      `json:"solde_especes"`
		Positions    []Position `json:"positions"`
		Fonds        []Position `json:"fonds"`
		SourceFile   string     `json:"source_file"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*c = Compte(aux)
	return nil
}

// CryptoHoldings groups valued coin balances per platform.
type CryptoHoldings struct {
	Total       Money         `json:"total"`
	Plateformes []*Plateforme `json:"plateformes"`
}

type Plateforme struct {
	Nom    string     `json:"nom"`
	Total  Money      `json:"total"`
	Soldes []Position `json:"soldes"`
}

// DeclaredSection carries manually declared assets of one category.
type DeclaredSection struct {
	Total  Money           `json:"total"`
	Actifs []DeclaredAsset `json:"actifs"`
}

// RealEstate totals the declared properties net of remaining loan capital.
type RealEstate struct {
	Total Money      `json:"total"` // net value: gross minus capital_restant_du
	Biens []Property `json:"biens"`
}

// ComputeTotals recomputes every aggregate bottom-up from the leaf amounts.
func (d *Document) ComputeTotals() {
	fin := EUR(0)
	for _, e := range d.Patrimoine.Financier.Etablissements {
		total := EUR(0)
		for _, c := range e.Comptes {
			total = total.Add(c.Montant)
		}
		e.Total = total
		fin = fin.Add(total)
	}
	d.Patrimoine.Financier.Total = fin

	crypto := EUR(0)
	for _, p := range d.Patrimoine.Crypto.Plateformes {
		total := EUR(0)
		for _, s := range p.Soldes {
			total = total.Add(s.Valeur)
		}
		p.Total = total
		crypto = crypto.Add(total)
	}
	d.Patrimoine.Crypto.Total = crypto

	metaux := EUR(0)
	for _, a := range d.Patrimoine.MetauxPrecieux.Actifs {
		metaux = metaux.Add(a.Montant)
	}
	d.Patrimoine.MetauxPrecieux.Total = metaux

	immo := EUR(0)
	for _, b := range d.Patrimoine.Immobilier.Biens {
		immo = immo.Add(b.ValeurActuelle).Sub(b.CapitalRestant)
	}
	d.Patrimoine.Immobilier.Total = immo

	d.Patrimoine.Total = fin.Add(crypto).Add(metaux).Add(immo)
}

// reconciliationTolerance absorbs statement rounding: a parsed account whose
// declared amount differs from the sum of its positions by at most one cent
// is considered reconciled.
var reconciliationTolerance = EUR(0.01)

// Validate checks the final document. Reconciliation gaps beyond the cent
// tolerance are returned as warnings. A negative category total or a missing
// referenced source file is fatal and returns a *ValidationError.
func (d *Document) Validate(sourcesDir string) ([]string, error) {
	var warnings []string
	var problems []string

	for _, e := range d.Patrimoine.Financier.Etablissements {
		for _, c := range e.Comptes {
			if len(c.Positions) == 0 && len(c.Fonds) == 0 {
				continue
			}
			sum := c.SoldeEspeces
			for _, p := range c.Positions {
				sum = sum.Add(p.Valeur)
			}
			for _, f := range c.Fonds {
				sum = sum.Add(f.Valeur)
			}
			if !c.Montant.Within(sum, reconciliationTolerance) {
				warnings = append(warnings, fmt.Sprintf(
					"%s/%s: declared amount %s differs from position sum %s",
					e.Code, c.Type, c.Montant, sum))
			}
		}
	}

	categories := []struct {
		name  string
		total Money
	}{
		{"financier", d.Patrimoine.Financier.Total},
		{"crypto", d.Patrimoine.Crypto.Total},
		{"metaux_precieux", d.Patrimoine.MetauxPrecieux.Total},
		{"immobilier", d.Patrimoine.Immobilier.Total},
	}
	for _, c := range categories {
		if c.total.IsNegative() {
			problems = append(problems, fmt.Sprintf("negative total for category %s: %s", c.name, c.total))
		}
	}

	for _, src := range d.Sources {
		if _, err := os.Stat(filepath.Join(sourcesDir, src)); err != nil {
			problems = append(problems, fmt.Sprintf("referenced source file %q not found in %q", src, sourcesDir))
		}
	}

	if len(problems) > 0 {
		return warnings, &ValidationError{Problems: problems}
	}
	return warnings, nil
}
