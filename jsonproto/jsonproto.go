// Package jsonproto implements the strict JSON subset dialect: objects
// of name/value pairs with one level of group nesting, `null` meaning
// "read this token", a number or boolean meaning "write this value" (a
// string value on a leaf is rejected with ErrMalformedValue). It is
// hand-rolled rather than built on encoding/json: see SPEC_FULL.md for
// why a reflection-based decoder is the wrong tool for a fixed,
// recursive-descent-shaped wire grammar this small.
package jsonproto

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bdube/extruderfin/cmdobj"
	"github.com/bdube/extruderfin/status"
)

// valueKind tags a parsed JSON value.
type valueKind uint8

const (
	vNull valueKind = iota
	vBool
	vNumber
	vString
	vObject
)

type jsonValue struct {
	kind valueKind
	num  float64
	str  string
	b    bool
	obj  []member
}

type member struct {
	key string
	val jsonValue
}

type parser struct {
	s   string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.s) {
		switch p.s[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) errf(format string, args ...interface{}) error {
	return fmt.Errorf("jsonproto: at byte %d: %s", p.pos, fmt.Sprintf(format, args...))
}

// parseObject parses a top-level or nested `{ ... }` object.
func (p *parser) parseObject() ([]member, error) {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != '{' {
		return nil, p.errf("expected '{'")
	}
	p.pos++
	var members []member
	p.skipSpace()
	if p.pos < len(p.s) && p.s[p.pos] == '}' {
		p.pos++
		return members, nil
	}
	for {
		p.skipSpace()
		key, err := p.parseString()
		if err != nil {
			return nil, err
		}
		p.skipSpace()
		if p.pos >= len(p.s) || p.s[p.pos] != ':' {
			return nil, p.errf("expected ':' after key %q", key)
		}
		p.pos++
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		members = append(members, member{key: key, val: val})
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, p.errf("unterminated object")
		}
		switch p.s[p.pos] {
		case ',':
			p.pos++
			continue
		case '}':
			p.pos++
			return members, nil
		default:
			return nil, p.errf("expected ',' or '}'")
		}
	}
}

func (p *parser) parseString() (string, error) {
	p.skipSpace()
	if p.pos >= len(p.s) || p.s[p.pos] != '"' {
		return "", p.errf("expected '\"'")
	}
	p.pos++
	var sb strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c == '"' {
			p.pos++
			return sb.String(), nil
		}
		if c == '\\' {
			p.pos++
			if p.pos >= len(p.s) {
				return "", p.errf("unterminated escape")
			}
			switch p.s[p.pos] {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case '/':
				sb.WriteByte('/')
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				return "", p.errf("unsupported escape \\%c", p.s[p.pos])
			}
			p.pos++
			continue
		}
		r, size := utf8.DecodeRuneInString(p.s[p.pos:])
		sb.WriteRune(r)
		p.pos += size
	}
	return "", p.errf("unterminated string")
}

func (p *parser) parseValue() (jsonValue, error) {
	p.skipSpace()
	if p.pos >= len(p.s) {
		return jsonValue{}, p.errf("unexpected end of input")
	}
	switch c := p.s[p.pos]; {
	case c == '"':
		s, err := p.parseString()
		if err != nil {
			return jsonValue{}, err
		}
		return jsonValue{kind: vString, str: s}, nil
	case c == '{':
		obj, err := p.parseObject()
		if err != nil {
			return jsonValue{}, err
		}
		return jsonValue{kind: vObject, obj: obj}, nil
	case strings.HasPrefix(p.s[p.pos:], "null"):
		p.pos += 4
		return jsonValue{kind: vNull}, nil
	case strings.HasPrefix(p.s[p.pos:], "true"):
		p.pos += 4
		return jsonValue{kind: vBool, b: true}, nil
	case strings.HasPrefix(p.s[p.pos:], "false"):
		p.pos += 5
		return jsonValue{kind: vBool, b: false}, nil
	case c == '-' || (c >= '0' && c <= '9'):
		start := p.pos
		if c == '-' {
			p.pos++
		}
		for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
			p.pos++
		}
		if p.pos < len(p.s) && p.s[p.pos] == '.' {
			p.pos++
			for p.pos < len(p.s) && p.s[p.pos] >= '0' && p.s[p.pos] <= '9' {
				p.pos++
			}
		}
		f, err := strconv.ParseFloat(p.s[start:p.pos], 64)
		if err != nil {
			return jsonValue{}, p.errf("malformed number %q", p.s[start:p.pos])
		}
		return jsonValue{kind: vNumber, num: f}, nil
	default:
		return jsonValue{}, p.errf("unexpected character %q", c)
	}
}

// Handle parses one JSON-mode command body against tbl, appending the
// result to list. null means read; a number or boolean means write; a
// string value is rejected with ErrMalformedValue; an object value
// recurses one level as a group of leaves.
func Handle(body string, list *cmdobj.List, tbl cmdobj.Table) status.Code {
	p := &parser{s: body}
	members, err := p.parseObject()
	if err != nil {
		return status.JsonSyntaxError
	}
	if len(members) == 0 {
		return status.ErrMalformedText
	}
	return handleMembers(members, list, tbl, list.Header())
}

func handleMembers(members []member, list *cmdobj.List, tbl cmdobj.Table, parent *cmdobj.CmdObj) status.Code {
	for _, m := range members {
		if code := handleMember(m, list, tbl, parent); code != status.Ok {
			return code
		}
	}
	return status.Ok
}

func handleMember(m member, list *cmdobj.List, tbl cmdobj.Table, parent *cmdobj.CmdObj) status.Code {
	if m.key == "$" {
		return tbl.ExpandUberGroup(list, parent)
	}
	idx, ok := tbl.Resolve(m.key)
	if !ok {
		return status.ErrUnknownToken
	}
	switch tbl[idx].Kind {
	case cmdobj.EntryUberGroup:
		return tbl.ExpandUberGroup(list, parent)
	case cmdobj.EntryGroup:
		if m.val.kind == vObject {
			groupNode, code := list.AddObject()
			if code != status.Ok {
				return code
			}
			groupNode.Kind = cmdobj.KindParent
			groupNode.Token = m.key
			groupNode.Depth = parent.Depth + 1
			return handleMembers(m.val.obj, list, tbl, groupNode)
		}
		// bare null group read (e.g. {"h1":null}): nest the members
		// under their own parent node, same as the vObject branch
		// above and ExpandUberGroup, instead of expanding flat into
		// parent.
		groupNode, code := list.AddObject()
		if code != status.Ok {
			return code
		}
		groupNode.Kind = cmdobj.KindParent
		groupNode.Token = m.key
		groupNode.Depth = parent.Depth + 1
		return tbl.ExpandGroup(list, groupNode, m.key)
	default: // EntrySingle
		c, code := list.AddObject()
		if code != status.Ok {
			return code
		}
		c.Depth = parent.Depth + 1
		switch m.val.kind {
		case vNull:
			return tbl.Get(idx, c)
		case vNumber:
			c.ValueF32 = m.val.num
			if code := tbl.Set(idx, c); code != status.Ok {
				return code
			}
			return tbl.Get(idx, c)
		case vBool:
			v := 0.0
			if m.val.b {
				v = 1.0
			}
			c.ValueF32 = v
			if code := tbl.Set(idx, c); code != status.Ok {
				return code
			}
			return tbl.Get(idx, c)
		default:
			return status.ErrMalformedValue
		}
	}
}

// Serialize renders list's populated body as a nested JSON object body
// (without the surrounding `{"r": ...}` envelope or footer array, both
// of which the caller composes once the status code is known).
func Serialize(list *cmdobj.List) string {
	var sb strings.Builder
	body := list.Body()
	renderLevel(&sb, list, body, 0, 1)
	return sb.String()
}

func renderLevel(sb *strings.Builder, list *cmdobj.List, body []*cmdobj.CmdObj, i int, depth int8) int {
	sb.WriteByte('{')
	first := true
	for i < len(body) && body[i].Depth == depth {
		n := body[i]
		if !first {
			sb.WriteByte(',')
		}
		first = false
		fmt.Fprintf(sb, "%q:", n.Token)
		if n.Kind == cmdobj.KindParent {
			i++
			i = renderLevel(sb, list, body, i, depth+1)
		} else {
			sb.WriteString(formatValue(list, n))
			i++
		}
	}
	sb.WriteByte('}')
	return i
}

func formatValue(list *cmdobj.List, c *cmdobj.CmdObj) string {
	switch c.Kind {
	case cmdobj.KindInteger:
		return strconv.FormatInt(int64(c.ValueF32), 10)
	case cmdobj.KindBool:
		if c.Bool {
			return "true"
		}
		return "false"
	case cmdobj.KindString:
		return strconv.Quote(list.StringAt(c.StringSlot))
	case cmdobj.KindEmpty, cmdobj.KindNull:
		return "null"
	default:
		return strconv.FormatFloat(c.ValueF32, 'f', int(c.Precision), 64)
	}
}
