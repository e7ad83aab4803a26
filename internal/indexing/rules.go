package indexing

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/syntrixbase/searchindexer/internal/events"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// TypeRule maps a storage object type to a search type. Each rule file holds
// one version of one search type.
type TypeRule struct {
	SearchType        string `yaml:"search_type" validate:"required"`
	Version           int    `yaml:"version" validate:"gte=1"`
	StorageCode       string `yaml:"storage_code" validate:"required"`
	StorageObjectType string `yaml:"storage_object_type" validate:"required"`
	// Condition is an optional CEL expression over `event`.
	Condition string `yaml:"condition"`

	Source string `yaml:"-"`
}

type codeAndType struct {
	code string
	typ  string
}

// Rules is the set of loaded type rules.
type Rules struct {
	// versions holds every version of each search type, oldest first.
	versions map[string][]TypeRule
	// byStorage lists the search types fed by each storage object type.
	byStorage  map[codeAndType][]string
	conditions *ConditionEvaluator
}

// NewRules builds a rule set. Search type versions must be contiguous from
// 1 and unique, and every condition must compile.
func NewRules(rules []TypeRule, conditions *ConditionEvaluator) (*Rules, error) {
	if conditions == nil {
		var err error
		if conditions, err = NewConditionEvaluator(0); err != nil {
			return nil, err
		}
	}
	r := &Rules{
		versions:   make(map[string][]TypeRule),
		byStorage:  make(map[codeAndType][]string),
		conditions: conditions,
	}
	byVersion := make(map[string]map[int]TypeRule)
	for _, rule := range rules {
		if err := validate.Struct(rule); err != nil {
			return nil, fmt.Errorf("invalid type rule %s: %w", ruleName(rule), err)
		}
		if rule.Condition != "" {
			if _, err := conditions.Compile(rule.Condition); err != nil {
				return nil, fmt.Errorf("invalid condition in type rule %s: %w", ruleName(rule), err)
			}
		}
		vers, ok := byVersion[rule.SearchType]
		if !ok {
			vers = make(map[int]TypeRule)
			byVersion[rule.SearchType] = vers
		}
		if prev, dup := vers[rule.Version]; dup {
			return nil, fmt.Errorf("multiple definitions for search type %s version %d in %s and %s",
				rule.SearchType, rule.Version, prev.Source, rule.Source)
		}
		vers[rule.Version] = rule
	}

	for searchType, vers := range byVersion {
		list := make([]TypeRule, len(vers))
		for v, rule := range vers {
			if v > len(vers) {
				return nil, fmt.Errorf("missing versions of search type %s: have %d versions, found version %d",
					searchType, len(vers), v)
			}
			list[v-1] = rule
		}
		r.versions[searchType] = list
		latest := list[len(list)-1]
		cnt := codeAndType{code: latest.StorageCode, typ: latest.StorageObjectType}
		r.byStorage[cnt] = append(r.byStorage[cnt], searchType)
	}
	for cnt := range r.byStorage {
		sort.Strings(r.byStorage[cnt])
	}
	return r, nil
}

// LoadRules reads every .yaml and .yml file in dir. Other files are skipped.
func LoadRules(dir string, conditions *ConditionEvaluator, logger *slog.Logger) (*Rules, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read type rules directory: %w", err)
	}
	var rules []TypeRule
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !entry.Type().IsRegular() || (ext != ".yaml" && ext != ".yml") {
			logger.Info("skipping file in type rules directory", "file", path)
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read type rule %s: %w", path, err)
		}
		var rule TypeRule
		if err := yaml.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("failed to parse type rule %s: %w", path, err)
		}
		if rule.Version == 0 {
			rule.Version = 1
		}
		rule.Source = path
		rules = append(rules, rule)
		logger.Info("loaded type rule",
			"file", path,
			"storage_code", rule.StorageCode,
			"storage_type", rule.StorageObjectType,
			"search_type", rule.SearchType,
			"version", rule.Version)
	}
	return NewRules(rules, conditions)
}

// Match returns the latest version of every search type the event's object
// type maps to whose condition accepts the event.
func (r *Rules) Match(ev events.Event) ([]TypeRule, error) {
	searchTypes := r.byStorage[codeAndType{code: ev.StorageCode, typ: ev.ObjectType}]
	var out []TypeRule
	for _, st := range searchTypes {
		vers := r.versions[st]
		rule := vers[len(vers)-1]
		ok, err := r.conditions.Evaluate(rule.Condition, ev)
		if err != nil {
			return nil, fmt.Errorf("search type %s: %w", st, err)
		}
		if ok {
			out = append(out, rule)
		}
	}
	return out, nil
}

// SearchTypes returns the known search types, sorted.
func (r *Rules) SearchTypes() []string {
	out := make([]string, 0, len(r.versions))
	for st := range r.versions {
		out = append(out, st)
	}
	sort.Strings(out)
	return out
}

// Versions returns every version of a search type, oldest first.
func (r *Rules) Versions(searchType string) []TypeRule {
	return append([]TypeRule(nil), r.versions[searchType]...)
}

func ruleName(rule TypeRule) string {
	if rule.Source != "" {
		return rule.Source
	}
	return fmt.Sprintf("%s v%d", rule.SearchType, rule.Version)
}
