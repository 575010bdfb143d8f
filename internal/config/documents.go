package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/rackwatch/rackwatch/internal/expr"
	"github.com/rackwatch/rackwatch/internal/rules"
	"github.com/rackwatch/rackwatch/internal/templates"
	"github.com/rackwatch/rackwatch/internal/warehouse"
)

const inlineSourceName = "inline-config"

// Bundle captures the merged rule and warehouse definitions after loading
// every configured source. The metadata explains what was loaded and why
// certain definitions were skipped.
type Bundle struct {
	Rules      []rules.Rule
	Warehouses []warehouse.Candidate
	Sources    []string
	Skipped    []DefinitionSkip
}

type document struct {
	Rules      map[string]RuleDefinition      `koanf:"rules"`
	Warehouses map[string]WarehouseDefinition `koanf:"warehouses"`
}

type documentAggregator struct {
	rules       map[string]RuleDefinition
	ruleSources map[string]string
	ruleSkips   map[string]*DefinitionSkip

	warehouses       map[string]WarehouseDefinition
	warehouseSources map[string]string
	warehouseSkips   map[string]*DefinitionSkip

	sources map[string]struct{}
}

func newDocumentAggregator() *documentAggregator {
	return &documentAggregator{
		rules:            make(map[string]RuleDefinition),
		ruleSources:      make(map[string]string),
		ruleSkips:        make(map[string]*DefinitionSkip),
		warehouses:       make(map[string]WarehouseDefinition),
		warehouseSources: make(map[string]string),
		warehouseSkips:   make(map[string]*DefinitionSkip),
		sources:          make(map[string]struct{}),
	}
}

func (a *documentAggregator) addDocument(doc document, source string) {
	if source != "" {
		a.sources[source] = struct{}{}
	}
	for name, def := range doc.Rules {
		a.addRule(name, def, source)
	}
	for name, def := range doc.Warehouses {
		a.addWarehouse(name, def, source)
	}
}

func (a *documentAggregator) addRule(name string, def RuleDefinition, source string) {
	if existing, ok := a.ruleSkips[name]; ok {
		existing.Sources = appendUnique(existing.Sources, source)
		return
	}
	if prev, ok := a.ruleSources[name]; ok {
		a.recordSkip(a.ruleSkips, "rule", name, "duplicate definition", prev, source)
		delete(a.ruleSources, name)
		delete(a.rules, name)
		return
	}
	a.ruleSources[name] = source
	a.rules[name] = def
}

func (a *documentAggregator) addWarehouse(name string, def WarehouseDefinition, source string) {
	if existing, ok := a.warehouseSkips[name]; ok {
		existing.Sources = appendUnique(existing.Sources, source)
		return
	}
	if prev, ok := a.warehouseSources[name]; ok {
		a.recordSkip(a.warehouseSkips, "warehouse", name, "duplicate definition", prev, source)
		delete(a.warehouseSources, name)
		delete(a.warehouses, name)
		return
	}
	a.warehouseSources[name] = source
	a.warehouses[name] = def
}

func (a *documentAggregator) recordSkip(skips map[string]*DefinitionSkip, kind, name, reason string, sources ...string) {
	if skip, ok := skips[name]; ok {
		if skip.Reason == "" {
			skip.Reason = reason
		}
		for _, src := range sources {
			skip.Sources = appendUnique(skip.Sources, src)
		}
		return
	}
	skip := &DefinitionSkip{
		Kind:    kind,
		Name:    name,
		Reason:  reason,
		Sources: []string{},
	}
	for _, src := range sources {
		skip.Sources = appendUnique(skip.Sources, src)
	}
	skips[name] = skip
}

// ruleValidator carries the compile surface a rule definition has to survive
// before it may enter the bundle.
type ruleValidator struct {
	registry *rules.Registry
	env      *expr.Environment
	renderer *templates.Renderer
}

func newRuleValidator() (*ruleValidator, error) {
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	return &ruleValidator{
		registry: rules.NewDefaultRegistry(),
		env:      env,
		renderer: templates.NewRenderer(),
	}, nil
}

func (v *ruleValidator) check(id string, def RuleDefinition) error {
	r, err := def.Rule(id)
	if err != nil {
		return err
	}
	evaluator, ok := v.registry.Lookup(r.Type)
	if !ok {
		return fmt.Errorf("unknown rule type %q", def.Type)
	}
	if !r.CategoryPriority.Known() {
		return fmt.Errorf("unknown categoryPriority %q", def.CategoryPriority)
	}
	if !r.Severity.Known() {
		return fmt.Errorf("unknown severity %q", def.Severity)
	}
	if err := evaluator.Validate(r.Conditions); err != nil {
		return err
	}
	return v.checkParameters(id, r.Parameters)
}

func (v *ruleValidator) checkParameters(id string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var params struct {
		Filter       string `json:"filter"`
		NoteTemplate string `json:"noteTemplate"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	if strings.TrimSpace(params.Filter) != "" {
		if _, err := v.env.Compile(params.Filter); err != nil {
			return err
		}
	}
	if _, err := v.renderer.CompileInline(id+":note", params.NoteTemplate); err != nil {
		return err
	}
	return nil
}

// validateDefinitions quarantines rules that fail compilation and warehouse
// templates that fail their invariants. Invalid definitions become skips, not
// errors: one bad document must never take the service down.
func (a *documentAggregator) validateDefinitions() error {
	validator, err := newRuleValidator()
	if err != nil {
		return err
	}
	for name, def := range a.rules {
		if err := validator.check(name, def); err != nil {
			source := a.ruleSources[name]
			a.recordSkip(a.ruleSkips, "rule", name, fmt.Sprintf("invalid rule: %v", err), source)
			delete(a.ruleSources, name)
			delete(a.rules, name)
		}
	}
	for name, def := range a.warehouses {
		template := warehouse.Template(def)
		if template.WarehouseID == "" {
			template.WarehouseID = name
		}
		if err := template.Normalized().Validate(); err != nil {
			source := a.warehouseSources[name]
			a.recordSkip(a.warehouseSkips, "warehouse", name, fmt.Sprintf("invalid template: %v", err), source)
			delete(a.warehouseSources, name)
			delete(a.warehouses, name)
		}
	}
	return nil
}

func (a *documentAggregator) bundle() (Bundle, error) {
	ruleIDs := make([]string, 0, len(a.rules))
	for name := range a.rules {
		ruleIDs = append(ruleIDs, name)
	}
	sort.Strings(ruleIDs)
	ruleList := make([]rules.Rule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		r, err := a.rules[id].Rule(id)
		if err != nil {
			return Bundle{}, err
		}
		ruleList = append(ruleList, r)
	}

	warehouseIDs := make([]string, 0, len(a.warehouses))
	for name := range a.warehouses {
		warehouseIDs = append(warehouseIDs, name)
	}
	sort.Strings(warehouseIDs)
	candidates := make([]warehouse.Candidate, 0, len(warehouseIDs))
	for _, id := range warehouseIDs {
		candidates = append(candidates, a.warehouses[id].Candidate(id))
	}

	skipped := make([]DefinitionSkip, 0, len(a.ruleSkips)+len(a.warehouseSkips))
	for _, skip := range a.ruleSkips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	for _, skip := range a.warehouseSkips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	sort.Slice(skipped, func(i, j int) bool {
		if skipped[i].Kind == skipped[j].Kind {
			return skipped[i].Name < skipped[j].Name
		}
		return skipped[i].Kind < skipped[j].Kind
	})

	sources := make([]string, 0, len(a.sources))
	for src := range a.sources {
		if src != "" {
			sources = append(sources, src)
		}
	}
	sort.Strings(sources)
	return Bundle{Rules: ruleList, Warehouses: candidates, Sources: sources, Skipped: skipped}, nil
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	if !slices.Contains(list, value) {
		list = append(list, value)
	}
	return list
}

func buildDocumentBundle(ctx context.Context, inlineRules map[string]RuleDefinition, inlineWarehouses map[string]WarehouseDefinition, rulesCfg RulesConfig, warehousesCfg WarehousesConfig) (Bundle, error) {
	agg := newDocumentAggregator()
	if len(inlineRules) > 0 || len(inlineWarehouses) > 0 {
		agg.addDocument(document{Rules: inlineRules, Warehouses: inlineWarehouses}, inlineSourceName)
	}

	files, err := collectDocumentSources(ctx, rulesCfg, warehousesCfg)
	if err != nil {
		return Bundle{}, err
	}
	for _, path := range files {
		select {
		case <-ctx.Done():
			return Bundle{}, ctx.Err()
		default:
		}
		doc, err := loadDocument(path)
		if err != nil {
			return Bundle{}, err
		}
		agg.addDocument(doc, path)
	}
	if err := agg.validateDefinitions(); err != nil {
		return Bundle{}, err
	}
	return agg.bundle()
}

func collectDocumentSources(ctx context.Context, rulesCfg RulesConfig, warehousesCfg WarehousesConfig) ([]string, error) {
	ruleFiles, err := collectSource(ctx, "rules", rulesCfg.RulesFile, rulesCfg.RulesFolder)
	if err != nil {
		return nil, err
	}
	warehouseFiles, err := collectSource(ctx, "warehouses", warehousesCfg.WarehousesFile, warehousesCfg.WarehousesFolder)
	if err != nil {
		return nil, err
	}
	files := append(ruleFiles, warehouseFiles...)
	sort.Strings(files)
	return slices.Compact(files), nil
}

func collectSource(ctx context.Context, kind, singleFile, folder string) ([]string, error) {
	if singleFile != "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := ensureFileExists(kind, singleFile); err != nil {
			return nil, err
		}
		return []string{singleFile}, nil
	}
	if folder == "" {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	stat, err := os.Stat(folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: %s folder %s: %w", kind, folder, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("config: %s folder %s is not a directory", kind, folder)
	}
	var files []string
	err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !isSupportedDocumentFile(path) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("config: walk %s folder %s: %w", kind, folder, err)
	}
	sort.Strings(files)
	return files, nil
}

func ensureFileExists(kind, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("config: %s file %s: %w", kind, path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s file %s: expected a file, found directory", kind, path)
	}
	return nil
}

func loadDocument(path string) (document, error) {
	parser, err := parserFor(path)
	if err != nil {
		return document{}, err
	}
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return document{}, fmt.Errorf("config: load definitions from %s: %w", path, err)
	}
	var doc document
	if err := k.Unmarshal("", &doc); err != nil {
		return document{}, fmt.Errorf("config: decode definitions from %s: %w", path, err)
	}
	if doc.Rules == nil {
		doc.Rules = make(map[string]RuleDefinition)
	}
	if doc.Warehouses == nil {
		doc.Warehouses = make(map[string]WarehouseDefinition)
	}
	return doc, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported definitions file extension %s", ext)
	}
}

func isSupportedDocumentFile(path string) bool {
	_, err := parserFor(path)
	return err == nil
}

func cloneRuleDefinitions(in map[string]RuleDefinition) map[string]RuleDefinition {
	if len(in) == 0 {
		return nil
	}
	return maps.Clone(in)
}

func cloneWarehouseDefinitions(in map[string]WarehouseDefinition) map[string]WarehouseDefinition {
	if len(in) == 0 {
		return nil
	}
	return maps.Clone(in)
}
