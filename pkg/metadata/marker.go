package metadata

import (
	"regexp"
	"strings"
)

// linuxEnv holds the marker variables whose value is fixed for a Linux target.
var linuxEnv = map[string]string{
	"sys_platform":    "linux",
	"platform_system": "Linux",
	"os_name":         "posix",
}

var markerTokenRE = regexp.MustCompile(`\s*(\(|\)|===|==|!=|~=|<=|>=|<|>|'[^']*'|"[^"]*"|[A-Za-z_][A-Za-z0-9_.]*)`)

// excludesLinux reports whether an environment marker is false on every
// Linux target. Comparisons on variables other than the platform ones are
// treated as unknown, so a marker is only excluded when its platform
// clauses alone decide it.
func excludesLinux(marker string) bool {
	toks, ok := tokenizeMarker(marker)
	if !ok {
		return false
	}
	p := &markerParser{toks: toks, ok: true}
	res := p.or()
	return p.ok && p.pos == len(p.toks) && res == no
}

type tri int8

const (
	unknown tri = iota
	yes
	no
)

func (t tri) and(o tri) tri {
	switch {
	case t == no || o == no:
		return no
	case t == yes && o == yes:
		return yes
	}
	return unknown
}

func (t tri) or(o tri) tri {
	switch {
	case t == yes || o == yes:
		return yes
	case t == no && o == no:
		return no
	}
	return unknown
}

func tokenizeMarker(s string) ([]string, bool) {
	var toks []string
	for s = strings.TrimSpace(s); s != ""; s = strings.TrimSpace(s) {
		m := markerTokenRE.FindStringSubmatchIndex(s)
		if m == nil || m[0] != 0 {
			return nil, false
		}
		toks = append(toks, s[m[2]:m[3]])
		s = s[m[1]:]
	}
	return toks, true
}

type markerParser struct {
	toks []string
	pos  int
	ok   bool
}

func (p *markerParser) peek() string {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return ""
}

func (p *markerParser) next() string {
	tok := p.peek()
	if tok == "" {
		p.ok = false
	} else {
		p.pos++
	}
	return tok
}

func (p *markerParser) or() tri {
	res := p.and()
	for p.peek() == "or" {
		p.pos++
		res = res.or(p.and())
	}
	return res
}

func (p *markerParser) and() tri {
	res := p.atom()
	for p.peek() == "and" {
		p.pos++
		res = res.and(p.atom())
	}
	return res
}

func (p *markerParser) atom() tri {
	if p.peek() == "(" {
		p.pos++
		res := p.or()
		if p.next() != ")" {
			p.ok = false
		}
		return res
	}
	lhs := p.next()
	op := p.next()
	if op == "not" {
		if p.next() != "in" {
			p.ok = false
		}
		op = "not in"
	}
	rhs := p.next()
	return compareMarker(lhs, op, rhs)
}

func compareMarker(lhs, op, rhs string) tri {
	left, lok := markerValue(lhs)
	right, rok := markerValue(rhs)
	if !lok || !rok {
		return unknown
	}
	var holds bool
	switch op {
	case "==":
		holds = left == right
	case "!=":
		holds = left != right
	case "in":
		holds = strings.Contains(right, left)
	case "not in":
		holds = !strings.Contains(right, left)
	default:
		return unknown
	}
	if holds {
		return yes
	}
	return no
}

// markerValue resolves a literal or a platform variable. Other variables
// have no fixed value on Linux.
func markerValue(tok string) (string, bool) {
	if len(tok) >= 2 && (tok[0] == '"' || tok[0] == '\'') {
		return tok[1 : len(tok)-1], true
	}
	v, ok := linuxEnv[tok]
	return v, ok
}
