// Package catalog loads and validates rule descriptors. A Catalog is
// immutable once built and preserves declaration order.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/coherence/internal/schema"
)

// ErrInvalidRule is returned when one or more rule records fail validation.
var ErrInvalidRule = errors.New("catalog: invalid rule definition")

//go:embed builtin.yaml
var builtinYAML []byte

// Record is the raw shape of a rule definition before validation.
type Record struct {
	ID             string   `yaml:"id"`
	Description    string   `yaml:"description"`
	Severity       string   `yaml:"severity"`
	InputFields    []string `yaml:"input_fields"`
	EvidenceFields []string `yaml:"evidence_fields"`
	Category       string   `yaml:"category"`
}

// Catalog is an ordered, read-only set of rule descriptors.
type Catalog struct {
	rules []schema.RuleDescriptor
	index map[string]int
}

// New validates records and builds a Catalog. All record errors are
// reported together.
func New(records []Record) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(records))}
	var errs []error
	for i, r := range records {
		d, fieldErrs := validate(r)
		if _, dup := c.index[d.ID]; dup && d.ID != "" {
			fieldErrs = append(fieldErrs, fmt.Sprintf("duplicate id %q", d.ID))
		}
		if len(fieldErrs) > 0 {
			errs = append(errs, fmt.Errorf("rule[%d] %q: %s", i, r.ID, strings.Join(fieldErrs, "; ")))
			continue
		}
		c.index[d.ID] = len(c.rules)
		c.rules = append(c.rules, d)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRule, errors.Join(errs...))
	}
	return c, nil
}

// validate returns the descriptor for r plus field-level error messages.
func validate(r Record) (schema.RuleDescriptor, []string) {
	var errs []string
	d := schema.RuleDescriptor{
		ID:             strings.TrimSpace(r.ID),
		Description:    strings.TrimSpace(r.Description),
		InputFields:    trimAll(r.InputFields),
		EvidenceFields: trimAll(r.EvidenceFields),
	}
	if d.ID == "" {
		errs = append(errs, "id is required")
	}
	if d.Description == "" {
		errs = append(errs, "description is required")
	}
	if r.Severity == "" {
		errs = append(errs, "severity is required")
	} else if sev, err := schema.ParseSeverity(r.Severity); err != nil {
		errs = append(errs, fmt.Sprintf("severity %q is not one of critical, high, medium, low", r.Severity))
	} else {
		d.Severity = sev
	}
	if len(d.InputFields) == 0 {
		errs = append(errs, "input_fields must not be empty")
	}
	for _, f := range d.InputFields {
		if f == "" {
			errs = append(errs, "input_fields must not contain blank names")
			break
		}
	}
	for _, f := range d.EvidenceFields {
		if f == "" {
			errs = append(errs, "evidence_fields must not contain blank names")
			break
		}
	}
	if r.Category != "" {
		cat, err := schema.ParseCategory(r.Category)
		if err != nil {
			errs = append(errs, fmt.Sprintf("category %q is not valid", r.Category))
		}
		d.Category = cat
	}
	return d, errs
}

func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}

// Load decodes YAML rule records from r and validates them.
func Load(r io.Reader) (*Catalog, error) {
	var records []Record
	if err := yaml.NewDecoder(r).Decode(&records); err != nil {
		if errors.Is(err, io.EOF) {
			return New(nil)
		}
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	return New(records)
}

// LoadFile reads and validates the rule catalog at path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Builtin returns the embedded default catalog.
func Builtin() *Catalog {
	c, err := Load(strings.NewReader(string(builtinYAML)))
	if err != nil {
		panic(fmt.Sprintf("catalog: builtin catalog is invalid: %v", err))
	}
	return c
}

// Rules returns a copy of the descriptors in declaration order.
func (c *Catalog) Rules() []schema.RuleDescriptor {
	out := make([]schema.RuleDescriptor, len(c.rules))
	copy(out, c.rules)
	return out
}

// Lookup returns the descriptor for id.
func (c *Catalog) Lookup(id string) (schema.RuleDescriptor, bool) {
	i, ok := c.index[id]
	if !ok {
		return schema.RuleDescriptor{}, false
	}
	return c.rules[i], true
}

// Len returns the number of rules.
func (c *Catalog) Len() int { return len(c.rules) }
