package patrimoine

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Config locates the three working directories of a normalization run and
// names its input and output files. Zero values fall back to the defaults.
type Config struct {
	SourcesDir   string // institution documents and the manifest
	GeneratedDir string // canonical document output
	CacheDir     string // parse-result cache for immutable years
	ManifestFile string // default "manifest.json", relative to SourcesDir
	OutputFile   string // default "patrimoine_input.json", relative to GeneratedDir
	CacheLimitMB int    // 0 disables the size limit
}

// DefaultOutputFile is the canonical document filename.
const DefaultOutputFile = "patrimoine_input.json"

// PriceSource converts a coin quantity into its euro value. Implementations
// may hit the network; failures are survivable because declared balances carry
// their own fallback value.
type PriceSource interface {
	ConvertToEUR(ticker string, qty Quantity) (Money, error)
}

// Normalizer runs the whole pipeline: manifest, parsers, cache, aggregation,
// validation and persistence.
type Normalizer struct {
	cfg       Config
	reg       *Registry
	cache     *CacheManager
	prices    PriceSource
	directory map[string]EtablissementInfo
}

// EtablissementInfo enriches an institution code with directory data from the
// optional etablissements_financiers.json file next to the manifest.
type EtablissementInfo struct {
	Nom  string `json:"nom"`
	Pays string `json:"pays,omitempty"`
	URL  string `json:"url,omitempty"`
}

// NewNormalizer wires the pipeline. The registry carries the available parser
// strategies; prices may be nil when no live crypto valuation is wanted.
func NewNormalizer(cfg Config, reg *Registry, prices PriceSource) (*Normalizer, error) {
	if cfg.ManifestFile == "" {
		cfg.ManifestFile = "manifest.json"
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = DefaultOutputFile
	}
	cache, err := NewCacheManager(cfg.CacheDir)
	if err != nil {
		return nil, err
	}
	n := &Normalizer{cfg: cfg, reg: reg, cache: cache, prices: prices}
	n.loadDirectory()
	return n, nil
}

// Cache exposes the cache manager for inspection commands.
func (n *Normalizer) Cache() *CacheManager { return n.cache }

// Registry exposes the parser registry for detection commands.
func (n *Normalizer) Registry() *Registry { return n.reg }

func (n *Normalizer) manifestPath() string {
	if filepath.IsAbs(n.cfg.ManifestFile) {
		return n.cfg.ManifestFile
	}
	return filepath.Join(n.cfg.SourcesDir, n.cfg.ManifestFile)
}

func (n *Normalizer) outputPath() string {
	if filepath.IsAbs(n.cfg.OutputFile) {
		return n.cfg.OutputFile
	}
	return filepath.Join(n.cfg.GeneratedDir, n.cfg.OutputFile)
}

// loadDirectory reads the optional institution directory. Absence is normal.
func (n *Normalizer) loadDirectory() {
	raw, err := os.ReadFile(filepath.Join(n.cfg.SourcesDir, "etablissements_financiers.json"))
	if err != nil {
		return
	}
	if err := json.Unmarshal(raw, &n.directory); err != nil {
		log.Printf("ignoring malformed etablissements_financiers.json: %v", err)
		n.directory = nil
	}
}

// Normalize runs the pipeline end to end and writes the canonical document.
// Validation warnings are logged; any fatal condition aborts with an error
// and leaves the previous output untouched.
func (n *Normalizer) Normalize() (*Document, error) {
	manifest, err := LoadManifest(n.manifestPath())
	if err != nil {
		return nil, err
	}
	if err := manifest.Validate(); err != nil {
		return nil, err
	}

	doc := &Document{
		Meta: DocumentMeta{
			Version:        DocumentVersion,
			GeneratedAt:    time.Now().Format(time.RFC3339),
			SourceManifest: filepath.Base(n.manifestPath()),
		},
		Profil: manifest.Profil,
	}

	etabs := make(map[string]*Etablissement)
	sources := make(map[string]bool)

	for _, account := range manifest.Patrimoine.ComptesTitres {
		if err := n.parseAccount(account, etabs, sources); err != nil {
			return nil, err
		}
	}
	n.mergeDeclared(manifest.Patrimoine.Liquidites, etabs)
	n.mergeDeclared(manifest.Patrimoine.Obligations, etabs)

	for code, e := range etabs {
		if info, ok := n.directory[code]; ok {
			e.Nom = info.Nom
			e.Pays = info.Pays
			e.URL = info.URL
		}
	}
	for _, code := range sortedKeys(etabs) {
		doc.Patrimoine.Financier.Etablissements = append(doc.Patrimoine.Financier.Etablissements, etabs[code])
	}

	if err := n.buildCrypto(manifest.Patrimoine.Crypto, doc, sources); err != nil {
		return nil, err
	}

	doc.Patrimoine.MetauxPrecieux.Actifs = manifest.Patrimoine.MetauxPrecieux
	doc.Patrimoine.Immobilier.Biens = manifest.Patrimoine.Immobilier

	for _, src := range sortedKeys(sources) {
		doc.Sources = append(doc.Sources, src)
	}

	doc.ComputeTotals()

	warnings, err := doc.Validate(n.cfg.SourcesDir)
	for _, w := range warnings {
		log.Printf("validation warning: %s", w)
	}
	if err != nil {
		return nil, err
	}

	if err := n.persist(doc); err != nil {
		return nil, err
	}
	if err := n.cache.EnforceLimit(n.cfg.CacheLimitMB); err != nil {
		log.Printf("cache housekeeping failed: %v", err)
	}
	return doc, nil
}

// parseAccount resolves the account's source files and turns each into a
// Compte under its custodian. An account whose every file fails to parse is
// dropped with a warning so one bad statement cannot abort the whole run.
func (n *Normalizer) parseAccount(account Account, etabs map[string]*Etablissement, sources map[string]bool) error {
	files, err := n.resolveSources(account.SourceFile, account.SourcePattern)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		log.Printf("account %s: no source file found, dropping", account.ID)
		return nil
	}

	parsed := 0
	for _, file := range files {
		result, err := n.parseFile(file, account.Meta(), account.Strategies(), account.CacheHistoricalYears)
		if err != nil {
			log.Printf("account %s: %v, dropping file", account.ID, err)
			continue
		}
		rel := n.relSource(file)
		sources[rel] = true
		e := n.etab(etabs, account.Custodian, account.CustodianName)
		e.Comptes = append(e.Comptes, &Compte{
			ID:           account.ID,
			Type:         resultType(result, account.TypeCompte),
			Montant:      result.Montant,
			SoldeEspeces: result.SoldeEspeces,
			Positions:    result.Positions,
			Fonds:        result.Fonds,
			SourceFile:   rel,
		})
		parsed++
	}
	if parsed == 0 {
		log.Printf("account %s: every source file failed to parse, account dropped", account.ID)
	}
	return nil
}

// parseFile parses one source file, going through the cache when the file
// belongs to a closed calendar year and the account opted in.
func (n *Normalizer) parseFile(file string, meta AccountMetadata, strategies []string, cacheYears bool) (*ParseResult, error) {
	cacheable := cacheYears && n.cache.ShouldCacheYear(FileYear(file))
	key := n.cache.CacheKey(meta.Custodian, file)

	if cacheable && n.cache.IsCached(key, file) {
		entry, err := n.cache.Load(key)
		if err == nil && entry != nil && entry.Data != nil {
			log.Printf("cache hit for %q", filepath.Base(file))
			return entry.Data, nil
		}
	}

	result, err := n.reg.ParseWithFallback(file, meta, strategies)
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := n.cache.Save(key, file, result, nil); err != nil {
			log.Printf("cannot cache %q: %v", filepath.Base(file), err)
		}
	}
	return result, nil
}

// buildCrypto values every crypto account. Parsed accounts go through the
// registry like any other; declared balances are valued live when a price
// source is available, from their declared euro value otherwise, and at zero
// with a warning as a last resort.
func (n *Normalizer) buildCrypto(accounts []CryptoAccount, doc *Document, sources map[string]bool) error {
	for _, account := range accounts {
		p := &Plateforme{Nom: account.Plateforme}

		if account.parsed() {
			files, err := n.resolveSources(account.SourceFile, account.SourcePattern)
			if err != nil {
				return err
			}
			for _, file := range files {
				result, err := n.parseFile(file, account.Meta(), account.Strategies(), account.CacheHistoricalYears)
				if err != nil {
					log.Printf("crypto account %s: %v, dropping file", account.ID, err)
					continue
				}
				sources[n.relSource(file)] = true
				p.Soldes = append(p.Soldes, n.valuePositions(result.Positions)...)
			}
		}

		for _, balance := range account.Soldes {
			p.Soldes = append(p.Soldes, n.valueBalance(balance))
		}

		if len(p.Soldes) == 0 {
			log.Printf("crypto platform %s: no balance, dropping", account.Plateforme)
			continue
		}
		doc.Patrimoine.Crypto.Plateformes = append(doc.Patrimoine.Crypto.Plateformes, p)
	}
	return nil
}

// valuePositions converts parsed coin positions quoted in their own currency
// into euro-valued ones. A euro value already carried by the parsed position
// serves as the fallback when no live price is available, and the parsed name
// is kept over the bare ticker.
func (n *Normalizer) valuePositions(positions []Position) []Position {
	out := make([]Position, 0, len(positions))
	for _, pos := range positions {
		ticker := pos.Ticker
		if ticker == "" {
			ticker = pos.Devise
		}
		valued := n.valueBalance(CryptoBalance{Ticker: ticker, Quantite: pos.Quantite, ValeurEUR: pos.Valeur})
		if pos.Nom != "" {
			valued.Nom = pos.Nom
		}
		out = append(out, valued)
	}
	return out
}

func (n *Normalizer) valueBalance(balance CryptoBalance) Position {
	pos := Position{Nom: balance.Ticker, Ticker: balance.Ticker, Quantite: balance.Quantite}

	if n.prices != nil {
		if value, err := n.prices.ConvertToEUR(balance.Ticker, balance.Quantite); err == nil {
			pos.Valeur = value
			return pos
		} else {
			log.Printf("no live price for %s: %v", balance.Ticker, err)
		}
	}
	if !balance.ValeurEUR.IsZero() {
		pos.Valeur = balance.ValeurEUR
		return pos
	}
	log.Printf("coin %s valued at zero: no live price and no declared value", balance.Ticker)
	pos.Valeur = EUR(0)
	return pos
}

// mergeDeclared folds declared cash assets into the financier tree under
// their custodian.
func (n *Normalizer) mergeDeclared(assets []DeclaredAsset, etabs map[string]*Etablissement) {
	for _, a := range assets {
		code := a.Custodian
		if code == "" {
			code = "autre"
		}
		e := n.etab(etabs, code, a.CustodianName)
		kind := a.Type
		if kind == "" {
			kind = a.Nom
		}
		e.Comptes = append(e.Comptes, &Compte{Type: kind, Montant: a.Montant})
	}
}

func (n *Normalizer) etab(etabs map[string]*Etablissement, code, name string) *Etablissement {
	if e, ok := etabs[code]; ok {
		return e
	}
	if name == "" {
		name = code
	}
	e := &Etablissement{Nom: name, Code: code}
	etabs[code] = e
	return e
}

// resolveSources expands a literal file or a glob pattern into the list of
// matching files inside the sources directory, sorted for determinism. A path
// escaping the sources directory is a *SecurityError and aborts the run.
func (n *Normalizer) resolveSources(file, pattern string) ([]string, error) {
	var files []string
	if file != "" {
		path := filepath.Join(n.cfg.SourcesDir, file)
		if err := n.checkContained(path); err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err == nil {
			files = append(files, path)
		}
		return files, nil
	}

	matches, err := filepath.Glob(filepath.Join(n.cfg.SourcesDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid source pattern %q: %w", pattern, err)
	}
	for _, m := range matches {
		if err := n.checkContained(m); err != nil {
			return nil, err
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// checkContained rejects paths resolving outside the sources directory, both
// lexically and after following symlinks.
func (n *Normalizer) checkContained(path string) error {
	root, err := filepath.Abs(n.cfg.SourcesDir)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if !within(root, abs) {
		return &SecurityError{Path: path}
	}
	// A symlink inside the tree may still point outside it.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		resolvedRoot := root
		if r, err := filepath.EvalSymlinks(root); err == nil {
			resolvedRoot = r
		}
		if !within(resolvedRoot, resolved) {
			return &SecurityError{Path: path}
		}
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (n *Normalizer) relSource(path string) string {
	if rel, err := filepath.Rel(n.cfg.SourcesDir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(path)
}

// persist writes the document atomically: encode to a temporary file in the
// output directory, then rename over the target. A failed run never leaves a
// half-written document.
func (n *Normalizer) persist(doc *Document) error {
	if err := os.MkdirAll(n.cfg.GeneratedDir, 0755); err != nil {
		return fmt.Errorf("cannot create output directory: %w", err)
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot encode canonical document: %w", err)
	}
	raw = append(raw, '\n')

	tmp, err := os.CreateTemp(n.cfg.GeneratedDir, ".patrimoine-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), n.outputPath())
}

// resultType prefers the parser-reported account type, falling back to the
// manifest declaration.
func resultType(r *ParseResult, declared string) string {
	if r.Type != "" {
		return r.Type
	}
	return declared
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
