// Package configstore keeps rule configurations as JSON files in a directory.
package configstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/rules"
)

const fileSuffix = "_config.json"

// Store reads and writes <name>_config.json files under Dir.
type Store struct {
	Dir string
}

// New returns a store rooted at dir, creating the directory if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

// Path returns the file a configuration named name is stored in.
func (s *Store) Path(name string) string {
	return filepath.Join(s.Dir, name+fileSuffix)
}

// Save validates cfg and writes it, replacing any previous file.
func (s *Store) Save(cfg *domain.RuleConfiguration) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if strings.ContainsAny(cfg.Name, `/\`) {
		return "", fmt.Errorf("%w: name %q must not contain path separators", domain.ErrInvalidConfiguration, cfg.Name)
	}

	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return "", err
	}

	path := s.Path(cfg.Name)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Load reads the named configuration. Without a file of that name the
// built-in preset is returned; anything else is ErrUnknownPreset.
func (s *Store) Load(name string) (domain.RuleConfiguration, error) {
	path := s.Path(name)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return rules.Preset(name)
	}
	if err != nil {
		return domain.RuleConfiguration{}, err
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return domain.RuleConfiguration{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFile reads a configuration from an arbitrary path.
func LoadFile(path string) (domain.RuleConfiguration, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.RuleConfiguration{}, err
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return domain.RuleConfiguration{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses and validates one JSON configuration.
func Decode(r io.Reader) (domain.RuleConfiguration, error) {
	var cfg domain.RuleConfiguration
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return domain.RuleConfiguration{}, fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return domain.RuleConfiguration{}, err
	}
	return cfg, nil
}

// List returns the names of stored configurations, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileSuffix))
	}
	slices.Sort(names)
	return names, nil
}

// SavePresets writes every built-in preset into the store.
func (s *Store) SavePresets() error {
	for _, cfg := range rules.Presets() {
		if _, err := s.Save(&cfg); err != nil {
			return err
		}
	}
	return nil
}

// Parameter is one threshold of one rule, rendered for display.
type Parameter struct {
	Rule  string
	Name  string
	Value string
}

// Parameters flattens a configuration into its thresholds, rule by rule.
// Descriptions are left out.
func Parameters(cfg domain.RuleConfiguration) []Parameter {
	r := cfg.Rules
	b := strconv.FormatBool
	i := strconv.Itoa
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	return []Parameter{
		{"frequency", "enabled", b(r.Frequency.Enabled)},
		{"frequency", "maxTransactions", i(r.Frequency.MaxTransactions)},
		{"frequency", "timeWindowMinutes", i(r.Frequency.TimeWindowMinutes)},
		{"amount", "enabled", b(r.Amount.Enabled)},
		{"amount", "singleTransactionLimit", r.Amount.SingleTransactionLimit.String()},
		{"amount", "dailyCumulativeLimit", r.Amount.DailyCumulativeLimit.String()},
		{"travel", "enabled", b(r.Travel.Enabled)},
		{"travel", "maxSpeedMph", f(r.Travel.MaxSpeedMPH)},
		{"time", "enabled", b(r.Time.Enabled)},
		{"time", "unusualHoursStart", i(r.Time.UnusualHoursStart)},
		{"time", "unusualHoursEnd", i(r.Time.UnusualHoursEnd)},
	}
}

// Difference is a threshold whose value differs between two configurations.
type Difference struct {
	Rule      string `json:"rule"`
	Parameter string `json:"parameter"`
	A         string `json:"a"`
	B         string `json:"b"`
}

// Compare lists the thresholds that differ between a and b.
func Compare(a, b domain.RuleConfiguration) []Difference {
	pa, pb := Parameters(a), Parameters(b)
	var out []Difference
	for k := range pa {
		if pa[k].Value != pb[k].Value {
			out = append(out, Difference{Rule: pa[k].Rule, Parameter: pa[k].Name, A: pa[k].Value, B: pb[k].Value})
		}
	}
	return out
}

// WriteComparison prints a side-by-side table of every threshold, marking
// the ones that differ.
func WriteComparison(w io.Writer, a, b domain.RuleConfiguration) error {
	pa, pb := Parameters(a), Parameters(b)
	sep := strings.Repeat("=", 80)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\nCONFIGURATION COMPARISON: %s vs %s\n%s\n",
		sep, strings.ToUpper(a.Name), strings.ToUpper(b.Name), sep)

	current := ""
	for k := range pa {
		if pa[k].Rule != current {
			current = pa[k].Rule
			fmt.Fprintf(&sb, "\n%s Rule:\n", strings.ToUpper(current))
			fmt.Fprintf(&sb, "  %-30s %-20s %-20s\n", "Parameter", a.Name, b.Name)
			fmt.Fprintf(&sb, "  %s %s %s\n", strings.Repeat("-", 30), strings.Repeat("-", 20), strings.Repeat("-", 20))
		}
		marker := ""
		if pa[k].Value != pb[k].Value {
			marker = " ←"
		}
		fmt.Fprintf(&sb, "  %-30s %-20s %-20s%s\n", pa[k].Name, pa[k].Value, pb[k].Value, marker)
	}
	fmt.Fprintf(&sb, "\n%s\n", sep)

	_, err := io.WriteString(w, sb.String())
	return err
}
