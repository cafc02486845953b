// Package policy maps the error labels emitted by a span classifier to the
// edit applied to the flagged token. Label sets differ between model
// versions, so the table is loaded from a versioned YAML file shipped next
// to the model rather than compiled in.
package policy

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy is the edit applied to a token carrying a given label.
type Policy string

const (
	// None leaves the token untouched and produces no error record.
	None Policy = "none"
	// Delete removes the token: the label means an extra token is present.
	Delete Policy = "delete"
	// Replace masks the token so the fill predictor can substitute it.
	Replace Policy = "replace"
)

// Valid reports whether p is one of the known policies.
func (p Policy) Valid() bool {
	switch p {
	case None, Delete, Replace:
		return true
	}
	return false
}

// Rule binds one classifier label to its policy.
type Rule struct {
	Label   string `yaml:"label"`
	Policy  Policy `yaml:"policy"`
	Message string `yaml:"message,omitempty"`
}

// Table is an immutable label -> rule lookup. It is safe for concurrent use.
type Table struct {
	version string
	rules   []Rule
	byLabel map[string]Rule
}

type document struct {
	Version string `yaml:"version"`
	Labels  []Rule `yaml:"labels"`
}

// Load reads the YAML table at path.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("policy: open %q: %w", path, err)
	}
	defer f.Close()

	t, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("policy: parse %q: %w", path, err)
	}
	return t, nil
}

// LoadFromReader decodes and validates a YAML table from r.
func LoadFromReader(r io.Reader) (*Table, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("policy: decode yaml: %w", err)
	}
	return New(doc.Version, doc.Labels)
}

// New builds a validated table from rules.
func New(version string, rules []Rule) (*Table, error) {
	if err := validate(rules); err != nil {
		return nil, err
	}
	t := &Table{
		version: version,
		rules:   append([]Rule(nil), rules...),
		byLabel: make(map[string]Rule, len(rules)),
	}
	for _, r := range rules {
		t.byLabel[r.Label] = r
	}
	return t, nil
}

func validate(rules []Rule) error {
	if len(rules) == 0 {
		return errors.New("policy: table has no labels")
	}

	var errs []error
	seen := make(map[string]struct{}, len(rules))
	edits := 0
	for i, r := range rules {
		if r.Label == "" {
			errs = append(errs, fmt.Errorf("policy: labels[%d]: empty label", i))
			continue
		}
		if _, dup := seen[r.Label]; dup {
			errs = append(errs, fmt.Errorf("policy: labels[%d]: duplicate label %q", i, r.Label))
		}
		seen[r.Label] = struct{}{}
		if !r.Policy.Valid() {
			errs = append(errs, fmt.Errorf("policy: label %q: unknown policy %q", r.Label, r.Policy))
			continue
		}
		if r.Policy != None {
			edits++
		}
	}
	if len(errs) == 0 && edits == 0 {
		errs = append(errs, errors.New("policy: every label maps to none; nothing would ever be corrected"))
	}
	return errors.Join(errs...)
}

// Version identifies the model label set the table was written for.
func (t *Table) Version() string { return t.version }

// Lookup returns the rule for label.
func (t *Table) Lookup(label string) (Rule, bool) {
	r, ok := t.byLabel[label]
	return r, ok
}

// Rules returns the rules in file order.
func (t *Table) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// Message returns the user-facing message for label, or fallback when the
// table carries none.
func (t *Table) Message(label, fallback string) string {
	if r, ok := t.byLabel[label]; ok && r.Message != "" {
		return r.Message
	}
	return fallback
}
