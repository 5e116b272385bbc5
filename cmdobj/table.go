package cmdobj

import "github.com/bdube/extruderfin/status"

// Flags controls cold-boot and persistence behavior for a single-valued
// table entry.
type Flags uint8

const (
	// FlagInitialize runs Set with the entry's Default at cold boot.
	FlagInitialize Flags = 0x01
	// FlagPersist write-through's a successful Set to the NVM image.
	FlagPersist Flags = 0x02
	// FlagNoStrip marks an entry whose token keeps its group prefix when
	// matched. The controller's sys rows (fb, fv, hp, hv) set it; Resolve
	// always compares the full MatchToken and never strips a prefix, so
	// the flag does not change lookup.
	FlagNoStrip Flags = 0x04
)

// EntryKind distinguishes a single-valued leaf from a group or the
// uber-group row.
type EntryKind uint8

const (
	EntrySingle EntryKind = iota
	EntryGroup
	EntryUberGroup
)

// GetFunc reads a bound target variable's current value.
type GetFunc func() float64

// SetFunc validates and writes v to a bound target variable.
type SetFunc func(v float64) status.Code

// PrintFunc renders a value in the entry's wire/text representation
// (SI units, entry-specific precision).
type PrintFunc func(v float64) string

// Entry is one row of the parameter table (cfgArray): a token, its
// binding, and the rendering/persistence rules around it.
type Entry struct {
	// MatchGroup is the owning group's token ("h1", "s1", ...), used to
	// find this entry's siblings when a group is expanded. Empty for
	// Group and UberGroup rows.
	MatchGroup string
	// MatchToken is the key get_index compares against: the full
	// mnemonic for a Single row ("h1tmp"), the bare group name for a
	// Group row ("h1"), or "$" for the UberGroup row.
	MatchToken string

	Flags     Flags
	Precision int8
	Kind      EntryKind
	// ValueKind is the CmdObj.Kind a resolved Single entry renders as
	// (KindInteger or KindFloat); unused for Group/UberGroup rows.
	ValueKind Kind

	Get     GetFunc
	Set     SetFunc
	Print   PrintFunc
	Default float64
}

// NewSingle builds a single-valued leaf entry bound to get/set/print
// closures supplied by the owning controller.
func NewSingle(group, token string, flags Flags, precision int8, kind Kind, get GetFunc, set SetFunc, print PrintFunc, def float64) Entry {
	return Entry{
		MatchGroup: group,
		MatchToken: token,
		Flags:      flags,
		Precision:  precision,
		Kind:       EntrySingle,
		ValueKind:  kind,
		Get:        get,
		Set:        set,
		Print:      print,
		Default:    def,
	}
}

// NewGroup builds a group-lookup row: resolving "token" bare expands
// every Single entry whose MatchGroup equals token.
func NewGroup(token string) Entry {
	return Entry{MatchToken: token, Kind: EntryGroup}
}

// NewUberGroup builds the single "$" row that expands every group.
func NewUberGroup() Entry {
	return Entry{MatchToken: "$", Kind: EntryUberGroup}
}

// Table is the ordered parameter table: singles first (specificity
// descending), then groups, then the uber-group. Ordering only matters
// for Resolve's first-match semantics and for iteration order when
// printing a group; it is preserved exactly as built by the caller.
type Table []Entry

// uberGroupOrder is the literal print order the firmware's _do_all()
// uber-group handler uses: sys, h1, p1, s1. This is NOT the same order
// as the table's own group rows (sys, h1, s1, p1) -- _do_all hard-codes
// its own sequence rather than walking the group rows, and that
// hard-coded sequence is what a "$" read actually produces on the wire.
var uberGroupOrder = []string{"sys", "h1", "p1", "s1"}

// Resolve returns the index of the first entry whose MatchToken equals
// token, or (NoIndex, false).
func (t Table) Resolve(token string) (int, bool) {
	for i, e := range t {
		if e.MatchToken == token {
			return i, true
		}
	}
	return NoIndex, false
}

// Get stamps cmd with entry idx's current value. idx must name a Single
// entry.
func (t Table) Get(idx int, cmd *CmdObj) status.Code {
	if idx < 0 || idx >= len(t) {
		return status.InternalError
	}
	e := t[idx]
	if e.Kind != EntrySingle {
		return status.InternalError
	}
	cmd.Kind = e.ValueKind
	cmd.ValueF32 = e.Get()
	cmd.Precision = e.Precision
	cmd.Group = e.MatchGroup
	cmd.Token = e.MatchToken
	cmd.Index = idx
	return status.Ok
}

// Set writes cmd.ValueF32 to entry idx's bound target, rejecting groups,
// the uber-group, and entries with no Set binding.
func (t Table) Set(idx int, cmd *CmdObj) status.Code {
	if idx < 0 || idx >= len(t) {
		return status.InternalError
	}
	e := t[idx]
	if e.Kind != EntrySingle || e.Set == nil {
		return status.ErrReadOnly
	}
	return e.Set(cmd.ValueF32)
}

// Print renders entry idx's current value through its PrintFunc.
func (t Table) Print(idx int) (string, status.Code) {
	if idx < 0 || idx >= len(t) {
		return "", status.InternalError
	}
	e := t[idx]
	if e.Kind != EntrySingle || e.Print == nil {
		return "", status.InternalError
	}
	return e.Print(e.Get()), status.Ok
}

// membersOf returns the indices of every Single entry belonging to
// group, in table order.
func (t Table) membersOf(group string) []int {
	var out []int
	for i, e := range t {
		if e.Kind == EntrySingle && e.MatchGroup == group {
			out = append(out, i)
		}
	}
	return out
}

// ExpandGroup appends one CmdObj child per member of group to list,
// parented under parent, in table order.
func (t Table) ExpandGroup(list *List, parent *CmdObj, group string) status.Code {
	for _, idx := range t.membersOf(group) {
		e := t[idx]
		child, code := list.AddFloat(e.MatchGroup, e.MatchToken, e.Get(), e.Precision)
		if code != status.Ok {
			return code
		}
		child.Kind = e.ValueKind
		child.Index = idx
		child.Depth = parent.Depth + 1
	}
	return status.Ok
}

// ExpandUberGroup appends one parent node per group, in the firmware's
// _do_all order (sys, h1, p1, s1), each populated via ExpandGroup.
func (t Table) ExpandUberGroup(list *List, parent *CmdObj) status.Code {
	for _, g := range uberGroupOrder {
		groupNode, code := list.AddObject()
		if code != status.Ok {
			return code
		}
		groupNode.Kind = KindParent
		groupNode.Token = g
		groupNode.Depth = parent.Depth + 1
		if code := t.ExpandGroup(list, groupNode, g); code != status.Ok {
			return code
		}
	}
	return status.Ok
}

// RunInitialize applies Default to every entry flagged FlagInitialize,
// in table order, used at cold boot before NVM load overlays persisted
// values.
func (t Table) RunInitialize() status.Code {
	for _, e := range t {
		if e.Kind == EntrySingle && e.Flags&FlagInitialize != 0 && e.Set != nil {
			if code := e.Set(e.Default); code != status.Ok {
				return code
			}
		}
	}
	return status.Ok
}

// Persistable returns the indices of every entry flagged FlagPersist, in
// table order; nvmstore uses this to lay out the persisted image.
func (t Table) Persistable() []int {
	var out []int
	for i, e := range t {
		if e.Kind == EntrySingle && e.Flags&FlagPersist != 0 {
			out = append(out, i)
		}
	}
	return out
}
