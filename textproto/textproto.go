// Package textproto implements the `$token`, `$token=value`, `$group`,
// and `$` (uber-group) text command dialect: the terser of the two wire
// dialects sharing one cmdobj.List/cmdobj.Table.
package textproto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bdube/extruderfin/cmdobj"
	"github.com/bdube/extruderfin/status"
)

// Handle parses one text-mode command line (already stripped of its
// trailing newline) against tbl, appending the result to list, and
// returns the status code to report in the response footer. list should
// already have been Reset by the caller for this command.
func Handle(line string, list *cmdobj.List, tbl cmdobj.Table) status.Code {
	if !strings.HasPrefix(line, "$") {
		return status.ErrMalformedText
	}
	body := line[1:]

	if body == "" {
		return tbl.ExpandUberGroup(list, list.Header())
	}

	token := body
	var rawValue string
	hasValue := false
	if i := strings.IndexByte(body, '='); i >= 0 {
		token, rawValue = body[:i], body[i+1:]
		hasValue = true
	}
	if token == "" {
		return status.ErrMalformedText
	}

	idx, ok := tbl.Resolve(token)
	if !ok {
		return status.ErrUnknownToken
	}

	switch tbl[idx].Kind {
	case cmdobj.EntryUberGroup:
		if hasValue {
			return status.ErrReadOnly
		}
		return tbl.ExpandUberGroup(list, list.Header())
	case cmdobj.EntryGroup:
		if hasValue {
			return status.ErrReadOnly
		}
		return tbl.ExpandGroup(list, list.Header(), token)
	default:
		c, code := list.AddObject()
		if code != status.Ok {
			return code
		}
		if hasValue {
			v, err := strconv.ParseFloat(rawValue, 64)
			if err != nil {
				return status.ErrMalformedValue
			}
			c.ValueF32 = v
			if code := tbl.Set(idx, c); code != status.Ok {
				return code
			}
		}
		return tbl.Get(idx, c)
	}
}

// Render flattens list's populated body into one line per leaf,
// "token:value\n", in list order. Parent (group) nodes contribute no
// line of their own; their children follow immediately after them.
func Render(list *cmdobj.List) string {
	var sb strings.Builder
	for _, c := range list.Body() {
		if c.Kind == cmdobj.KindParent {
			continue
		}
		fmt.Fprintf(&sb, "%s:%s\n", c.Token, formatValue(c))
	}
	return sb.String()
}

func formatValue(c *cmdobj.CmdObj) string {
	switch c.Kind {
	case cmdobj.KindInteger:
		return strconv.FormatInt(int64(c.ValueF32), 10)
	case cmdobj.KindBool:
		if c.Bool {
			return "true"
		}
		return "false"
	default:
		return strconv.FormatFloat(c.ValueF32, 'f', int(c.Precision), 64)
	}
}
