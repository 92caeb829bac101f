// Package requirements parses pip-style requirement lines.
//
// Each non-blank, non-comment line of a requirements file describes one
// package:
//
//	requests[socks]>=2.28,<3 ; python_version >= "3.8"  # comment
//
// Parsing is lazy: [Parse] returns a sequence that yields one [Requirement]
// or one error per line, so a malformed line never hides the lines after it.
// Errors carry the 1-based line number (see [errors.GetLine]).
//
// The same grammar is used for the requires_dist entries of package
// metadata, through [ParseLine].
package requirements

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"regexp"
	"strings"

	"github.com/matzehuels/piprecipes/pkg/errors"
	"github.com/matzehuels/piprecipes/pkg/integrations"
	"github.com/matzehuels/piprecipes/pkg/version"
)

var (
	nameRE   = regexp.MustCompile(`^([A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?)\s*`)
	extrasRE = regexp.MustCompile(`^\[([^\]]*)\]\s*`)
	extraRE  = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9._-]*[A-Za-z0-9])?$`)
)

// Requirement is one parsed requirement line.
type Requirement struct {
	Name      string            // Package name as written
	Extras    []string          // Requested extras, in input order
	Specifier version.Specifier // Version constraint; empty means any version
	Marker    string            // Environment marker, verbatim and unevaluated
	Line      int               // 1-based source line, 0 when not read from a file
	Raw       string            // The line as it appeared in the input
}

// Key returns the normalized package name used for identity and lookups.
func (r Requirement) Key() string {
	return integrations.NormalizePkgName(r.Name)
}

// String formats the requirement in canonical form without the marker.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	b.WriteString(r.Specifier.String())
	return b.String()
}

// Parse returns a sequence over the requirements read from r. Blank lines and
// lines starting with "#" are skipped. A line that does not parse yields an
// error coded MALFORMED_REQUIREMENT and iteration continues. A read failure
// yields a final error and ends the sequence.
//
// The sequence consumes r and cannot be restarted.
func Parse(r io.Reader) iter.Seq2[Requirement, error] {
	return func(yield func(Requirement, error) bool) {
		scanner := bufio.NewScanner(r)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			start := lineNo
			line := scanner.Text()

			// Backslash continues a requirement on the next line.
			for strings.HasSuffix(strings.TrimRight(line, " \t"), `\`) && scanner.Scan() {
				lineNo++
				line = strings.TrimSuffix(strings.TrimRight(line, " \t"), `\`) + scanner.Text()
			}

			trimmed := strings.TrimSpace(line)
			if trimmed == "" || trimmed[0] == '#' {
				continue
			}
			if !yield(parseLine(trimmed, start)) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Requirement{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "read requirements"))
		}
	}
}

// ParseLine parses a single requirement string.
func ParseLine(s string) (Requirement, error) {
	return parseLine(strings.TrimSpace(s), 0)
}

// MustParseLine is like ParseLine but panics on invalid input.
func MustParseLine(s string) Requirement {
	r, err := ParseLine(s)
	if err != nil {
		panic(err)
	}
	return r
}

func parseLine(raw string, line int) (Requirement, error) {
	malformed := func(format string, args ...any) (Requirement, error) {
		return Requirement{}, errors.AtLine(errors.ErrCodeMalformedRequirement, line, format, args...)
	}

	s := stripComment(raw)
	if s == "" {
		return malformed("empty requirement")
	}
	if s[0] == '-' {
		return malformed("pip option %q is not supported", strings.Fields(s)[0])
	}
	if strings.Contains(s, "://") || strings.HasPrefix(s, "git+") {
		return malformed("URL requirements are not supported: %q", s)
	}

	req := Requirement{Line: line, Raw: raw}

	if i := strings.IndexByte(s, ';'); i >= 0 {
		req.Marker = strings.TrimSpace(s[i+1:])
		s = strings.TrimSpace(s[:i])
		if req.Marker == "" {
			return malformed("empty environment marker in %q", raw)
		}
	}

	m := nameRE.FindStringSubmatch(s)
	if m == nil {
		return malformed("cannot parse package name in %q", raw)
	}
	req.Name = m[1]
	rest := s[len(m[0]):]

	if m := extrasRE.FindStringSubmatch(rest); m != nil {
		for _, extra := range strings.Split(m[1], ",") {
			extra = strings.TrimSpace(extra)
			if !extraRE.MatchString(extra) {
				return malformed("invalid extra %q in %q", extra, raw)
			}
			req.Extras = append(req.Extras, extra)
		}
		rest = rest[len(m[0]):]
	} else if strings.HasPrefix(rest, "[") {
		return malformed("unterminated extras in %q", raw)
	}

	if strings.HasPrefix(rest, "@") {
		return malformed("direct references are not supported: %q", raw)
	}

	rest = strings.TrimSpace(rest)
	if strings.HasPrefix(rest, "(") {
		if !strings.HasSuffix(rest, ")") {
			return malformed("unbalanced parenthesis in %q", raw)
		}
		rest = rest[1 : len(rest)-1]
	}

	spec, err := version.ParseSpecifier(rest)
	if err != nil {
		return Requirement{}, &errors.Error{
			Code:    errors.ErrCodeMalformedRequirement,
			Message: fmt.Sprintf("invalid version constraint in %q", raw),
			Line:    line,
			Cause:   err,
		}
	}
	req.Specifier = spec
	return req, nil
}

// stripComment removes a trailing " # comment".
func stripComment(s string) string {
	for i := 1; i < len(s); i++ {
		if s[i] == '#' && (s[i-1] == ' ' || s[i-1] == '\t') {
			return strings.TrimSpace(s[:i])
		}
	}
	return strings.TrimSpace(s)
}

// File is the result of reading a whole requirements file.
type File struct {
	Requirements []Requirement
	Malformed    []error
}

// Collect drains seq into a File. Malformed lines are collected; any other
// error stops collection and is returned with what was read so far.
func Collect(seq iter.Seq2[Requirement, error]) (*File, error) {
	f := &File{}
	for req, err := range seq {
		if err != nil {
			if !errors.Is(err, errors.ErrCodeMalformedRequirement) {
				return f, err
			}
			f.Malformed = append(f.Malformed, err)
			continue
		}
		f.Requirements = append(f.Requirements, req)
	}
	return f, nil
}

// ParseFile reads and parses the requirements file at path. Only failing to
// open the file is returned as an error; malformed lines are collected.
func ParseFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, err, "requirements file %s", path)
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "open requirements file %s", path)
	}
	defer f.Close()
	return Collect(Parse(f))
}
