// Package license maps free-form license declarations onto the build
// framework's common-license identifiers.
//
// Mapping never fails. Every result carries a [Confidence]:
//
//   - [Exact]: the declaration is a known identifier, alias or SPDX
//     expression of known identifiers
//   - [Heuristic]: a license family name occurs in the declaration, or a
//     license file text was recognized
//   - [Unmapped]: nothing matched; the identifier is [UnknownID]
//
// The default table is embedded from licenses.toml and can be extended with
// [LoadTable].
package license

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/piprecipes/pkg/errors"
)

//go:embed licenses.toml
var defaultTable []byte

// Confidence grades how a license identifier was obtained.
type Confidence string

const (
	Exact     Confidence = "exact"
	Heuristic Confidence = "heuristic"
	Unmapped  Confidence = "unmapped"
)

// UnknownID is the identifier emitted for unmapped licenses.
const UnknownID = "Unknown"

// Entry is one common license.
type Entry struct {
	ID      string   `toml:"id"`
	File    string   `toml:"file,omitempty"`
	MD5     string   `toml:"md5"`
	Aliases []string `toml:"aliases,omitempty"`
}

// ChecksumDeclaration returns the LIC_FILES_CHKSUM entry for the license text
// in the common-license directory, or "" when the table has no md5 for it.
func (e Entry) ChecksumDeclaration() string {
	if e.MD5 == "" {
		return ""
	}
	file := e.File
	if file == "" {
		file = e.ID
	}
	return fmt.Sprintf("file://${COMMON_LICENSE_DIR}/%s;md5=%s", file, e.MD5)
}

// Rule maps declarations containing any of Match to ID. With Words set a
// term only matches as a whole word, so "mit" does not match "Limited".
type Rule struct {
	ID    string   `toml:"id"`
	Match []string `toml:"match"`
	Words bool     `toml:"words,omitempty"`
}

// matcher returns the predicate for r over lower-cased declarations.
func (r Rule) matcher() func(string) bool {
	terms := make([]string, len(r.Match))
	for i, s := range r.Match {
		terms[i] = strings.ToLower(s)
	}
	if r.Words {
		quoted := make([]string, len(terms))
		for i, s := range terms {
			quoted[i] = regexp.QuoteMeta(s)
		}
		re := regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		return re.MatchString
	}
	return func(lower string) bool {
		for _, s := range terms {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// TextRule maps license file texts containing all of All to ID.
type TextRule struct {
	ID  string   `toml:"id"`
	All []string `toml:"all"`
}

// Table is the license data a Mapper works from. Rule order is significant.
type Table struct {
	Licenses   []Entry    `toml:"license"`
	Heuristics []Rule     `toml:"heuristic"`
	Texts      []TextRule `toml:"text"`
}

var md5RE = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ParseTable decodes a TOML license table.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if _, err := toml.Decode(string(data), &t); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode license table")
	}
	return &t, nil
}

// DefaultTable returns a fresh copy of the embedded table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultTable)
	if err != nil {
		panic(err)
	}
	return t
}

// LoadTable returns the default table with the TOML file at path merged over
// it. An empty path returns the defaults.
func LoadTable(path string) (*Table, error) {
	t := DefaultTable()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "license table %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read license table %s", path)
	}
	override, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	t.Merge(override)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Merge applies o over t. Licenses with a matching ID are replaced and new
// ones appended. Rules from o are tried before the rules of t.
func (t *Table) Merge(o *Table) {
	index := make(map[string]int, len(t.Licenses))
	for i, e := range t.Licenses {
		index[strings.ToLower(e.ID)] = i
	}
	for _, e := range o.Licenses {
		if i, ok := index[strings.ToLower(e.ID)]; ok {
			t.Licenses[i] = e
			continue
		}
		index[strings.ToLower(e.ID)] = len(t.Licenses)
		t.Licenses = append(t.Licenses, e)
	}
	t.Heuristics = append(append([]Rule{}, o.Heuristics...), t.Heuristics...)
	t.Texts = append(append([]TextRule{}, o.Texts...), t.Texts...)
}

// Validate checks that every license has an id and a well-formed md5, if
// any, and that every rule refers to a known license.
func (t *Table) Validate() error {
	known := make(map[string]bool, len(t.Licenses))
	for _, e := range t.Licenses {
		if e.ID == "" {
			return errors.New(errors.ErrCodeInvalidConfig, "license entry without id")
		}
		if e.MD5 != "" && !md5RE.MatchString(e.MD5) {
			return errors.New(errors.ErrCodeInvalidConfig, "license %s: invalid md5 %q", e.ID, e.MD5)
		}
		known[e.ID] = true
	}
	for _, r := range t.Heuristics {
		if !known[r.ID] {
			return errors.New(errors.ErrCodeInvalidConfig, "heuristic refers to unknown license %q", r.ID)
		}
		if len(r.Match) == 0 || slices.Contains(r.Match, "") {
			return errors.New(errors.ErrCodeInvalidConfig, "heuristic for %s has an empty match term", r.ID)
		}
	}
	for _, r := range t.Texts {
		if !known[r.ID] {
			return errors.New(errors.ErrCodeInvalidConfig, "text rule refers to unknown license %q", r.ID)
		}
	}
	return nil
}

// Mapping is the result of mapping one declaration.
type Mapping struct {
	Declared            string     `json:"declared"`
	ID                  string     `json:"id"`
	ChecksumDeclaration string     `json:"checksum,omitempty"`
	Confidence          Confidence `json:"confidence"`
}

// NeedsReview reports whether a human should confirm the mapping.
func (m Mapping) NeedsReview() bool { return m.Confidence != Exact }

// Mapper maps declarations using a Table. It is safe for concurrent use.
type Mapper struct {
	table *Table
	keys  map[string]Entry
	ids   map[string]Entry
	rules []func(string) bool
}

// NewMapper validates t and indexes it.
func NewMapper(t *Table) (*Mapper, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	m := &Mapper{
		table: t,
		keys:  make(map[string]Entry),
		ids:   make(map[string]Entry, len(t.Licenses)),
	}
	for _, e := range t.Licenses {
		m.ids[e.ID] = e
		m.keys[strings.ToLower(e.ID)] = e
		for _, a := range e.Aliases {
			m.keys[strings.ToLower(strings.TrimSpace(a))] = e
		}
	}
	for _, r := range t.Heuristics {
		m.rules = append(m.rules, r.matcher())
	}
	return m, nil
}

// Default returns a Mapper over the embedded table.
var Default = sync.OnceValue(func() *Mapper {
	m, err := NewMapper(DefaultTable())
	if err != nil {
		panic(err)
	}
	return m
})

// Map maps a declared license string.
func (m *Mapper) Map(declared string) Mapping {
	d := strings.TrimSpace(declared)
	if d == "" {
		return unmapped(declared)
	}
	if e, ok := m.keys[strings.ToLower(d)]; ok {
		return mapped(declared, e, Exact)
	}
	if mp, ok := m.expression(declared, d); ok {
		return mp
	}

	lower := strings.ToLower(d)
	for i, r := range m.table.Heuristics {
		if m.rules[i](lower) {
			return mapped(declared, m.ids[r.ID], Heuristic)
		}
	}
	return unmapped(declared)
}

// MapText maps declared, falling back to recognizing the license file text
// when the declaration does not map exactly.
func (m *Mapper) MapText(declared string, text []byte) Mapping {
	mp := m.Map(declared)
	if mp.Confidence == Exact || len(text) == 0 {
		return mp
	}
	lower := strings.ToLower(string(text))
	for _, r := range m.table.Texts {
		if containsAll(lower, r.All) {
			return mapped(declared, m.ids[r.ID], Heuristic)
		}
	}
	return mp
}

// expression maps SPDX "A OR B" and "A AND B" expressions whose operands
// are all known, joined with the recipe operators | and &.
func (m *Mapper) expression(declared, d string) (Mapping, bool) {
	hasOr, hasAnd := strings.Contains(d, " OR "), strings.Contains(d, " AND ")
	if hasOr == hasAnd {
		return Mapping{}, false
	}
	sep, join := " OR ", " | "
	if hasAnd {
		sep, join = " AND ", " & "
	}

	var ids, sums []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(d, sep) {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "()"))
		e, ok := m.keys[strings.ToLower(part)]
		if !ok {
			return Mapping{}, false
		}
		ids = append(ids, e.ID)
		if sum := e.ChecksumDeclaration(); sum != "" && !seen[sum] {
			seen[sum] = true
			sums = append(sums, sum)
		}
	}
	return Mapping{
		Declared:            declared,
		ID:                  strings.Join(ids, join),
		ChecksumDeclaration: strings.Join(sums, " "),
		Confidence:          Exact,
	}, true
}

// Lookup returns the license with the given identifier.
func (m *Mapper) Lookup(id string) (Entry, bool) {
	e, ok := m.ids[id]
	return e, ok
}

// Entries returns the known licenses sorted by identifier.
func (m *Mapper) Entries() []Entry {
	out := make([]Entry, 0, len(m.ids))
	for _, e := range m.ids {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func mapped(declared string, e Entry, c Confidence) Mapping {
	return Mapping{Declared: declared, ID: e.ID, ChecksumDeclaration: e.ChecksumDeclaration(), Confidence: c}
}

func unmapped(declared string) Mapping {
	return Mapping{Declared: declared, ID: UnknownID, Confidence: Unmapped}
}

func containsAll(s string, subs []string) bool {
	if len(subs) == 0 {
		return false
	}
	for _, sub := range subs {
		if !strings.Contains(s, strings.ToLower(sub)) {
			return false
		}
	}
	return true
}
