// Package cmdobj implements the command-object list: a fixed-capacity,
// doubly linked sequence of typed name/value nodes backed by a shared
// string arena, plus the parameter table (cfgArray) that resolves a
// token to a typed get/set/print binding. It is the one data structure
// shared by the text and JSON wire dialects.
package cmdobj

import "github.com/bdube/extruderfin/status"

// Sizing constants, fixed by the wire/list contract: a 13-element body
// bracketed by a response header and a footer reservation.
const (
	GroupLen = 3
	TokenLen = 5
	BodyLen  = 13
	ListLen  = BodyLen + 2

	ArenaLen = 128

	// NoLink marks an unused prev/next list link; NoIndex marks a CmdObj
	// that has not been resolved against the parameter table.
	NoLink  = -1
	NoIndex = -1
)

// arena guard sentinels, checked on every Reset. Go's bounds checking
// makes a real overrun impossible, but the sentinels are kept anyway:
// a caller that pokes the arena's backing array through reflection or a
// future unsafe optimization trips InternalError instead of silently
// corrupting neighboring CmdObj fields, exactly as the original guard
// bytes were meant to catch an adjacent buffer overrun.
const (
	magicStart uint16 = 0xAA55
	magicEnd   uint16 = 0xAA55
)

// Kind tags the type of value a CmdObj holds.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindNull
	KindBool
	KindInteger
	KindFloat
	KindString
	KindArray
	KindParent
)

// CmdObj is one node of the command list: a resolved or unresolved
// name/value pair, or a parent-of-children marker.
type CmdObj struct {
	Prev, Next int // list links, NoLink if unused

	Index int // resolved position in the parameter table, or NoIndex
	Depth int8

	Kind     Kind
	ValueF32 float64
	Bool     bool

	Token string // full mnemonic, e.g. "h1tmp"
	Group string // owning group prefix, e.g. "h1", or "" for top-level

	StringSlot int // offset into the arena, or NoLink if none
	Precision  int8
}

func (c *CmdObj) clear() {
	c.Index = NoIndex
	c.Depth = 0
	c.Kind = KindEmpty
	c.ValueF32 = 0
	c.Bool = false
	c.Token = ""
	c.Group = ""
	c.StringSlot = NoLink
	c.Precision = 0
}

// Arena is the shared string buffer backing every CmdObj.StringSlot in a
// List. Strings are appended and never freed individually; the whole
// arena is rewound on List.Reset.
type Arena struct {
	buf        [ArenaLen]byte
	wp         int
	magicStart uint16
	magicEnd   uint16
}

func newArena() *Arena {
	return &Arena{magicStart: magicStart, magicEnd: magicEnd}
}

// checkSentinels reports whether the arena's guard values are intact.
func (a *Arena) checkSentinels() bool {
	return a.magicStart == magicStart && a.magicEnd == magicEnd
}

func (a *Arena) reset() {
	a.wp = 0
}

// Copy appends s, NUL-terminated, to the arena and returns the offset at
// which it starts. Returns (0, false) if the arena has no room.
func (a *Arena) Copy(s string) (int, bool) {
	need := len(s) + 1
	if a.wp+need > ArenaLen {
		return 0, false
	}
	slot := a.wp
	copy(a.buf[slot:], s)
	a.buf[slot+len(s)] = 0
	a.wp += need
	return slot, true
}

// String reads a NUL-terminated string back out of the arena starting at
// slot.
func (a *Arena) String(slot int) string {
	if slot < 0 || slot >= ArenaLen {
		return ""
	}
	end := slot
	for end < ArenaLen && a.buf[end] != 0 {
		end++
	}
	return string(a.buf[slot:end])
}

// List is the fixed-capacity command-object list: a response header at
// index 0, BodyLen working slots, and a reserved footer at the last
// index, threaded together as a doubly linked list.
type List struct {
	nodes [ListLen]CmdObj
	arena *Arena
}

// NewList returns a freshly reset List.
func NewList() *List {
	l := &List{arena: newArena()}
	l.Reset()
	return l
}

const (
	headerIdx = 0
	footerIdx = ListLen - 1
	bodyStart = 1
	bodyEnd   = ListLen - 2 // inclusive
)

// Reset relinks header -> body[0..] -> footer, clears every node to
// Empty, and rewinds the arena. It verifies the arena's guard sentinels
// first and returns InternalError without mutating anything if they
// have been clobbered.
func (l *List) Reset() status.Code {
	if !l.arena.checkSentinels() {
		return status.InternalError
	}
	for i := range l.nodes {
		l.nodes[i].clear()
		l.nodes[i].Prev = i - 1
		l.nodes[i].Next = i + 1
	}
	l.nodes[headerIdx].Prev = NoLink
	l.nodes[footerIdx].Next = NoLink
	l.nodes[headerIdx].Kind = KindParent
	l.nodes[footerIdx].Kind = KindArray
	l.arena.reset()
	return status.Ok
}

// Header returns the response header node ("r").
func (l *List) Header() *CmdObj { return &l.nodes[headerIdx] }

// Footer returns the reserved footer node ("f").
func (l *List) Footer() *CmdObj { return &l.nodes[footerIdx] }

// firstEmpty returns the index of the first Empty body slot, or NoLink
// if the body is full.
func (l *List) firstEmpty() int {
	for i := bodyStart; i <= bodyEnd; i++ {
		if l.nodes[i].Kind == KindEmpty {
			return i
		}
	}
	return NoLink
}

// AddObject claims the first Empty body slot, marks it KindNull (so the
// next Add* call moves on to the following slot), and returns it, or nil
// with NoBufferSpace if the list is full.
func (l *List) AddObject() (*CmdObj, status.Code) {
	i := l.firstEmpty()
	if i == NoLink {
		return nil, status.NoBufferSpace
	}
	l.nodes[i].clear()
	l.nodes[i].Kind = KindNull
	return &l.nodes[i], status.Ok
}

// AddInteger appends an integer-kind leaf.
func (l *List) AddInteger(group, token string, v int64) (*CmdObj, status.Code) {
	c, code := l.AddObject()
	if code != status.Ok {
		return nil, code
	}
	c.Kind = KindInteger
	c.Group, c.Token = group, token
	c.ValueF32 = float64(v)
	return c, status.Ok
}

// AddFloat appends a float-kind leaf with the given rendering precision.
func (l *List) AddFloat(group, token string, v float64, precision int8) (*CmdObj, status.Code) {
	c, code := l.AddObject()
	if code != status.Ok {
		return nil, code
	}
	c.Kind = KindFloat
	c.Group, c.Token = group, token
	c.ValueF32 = v
	c.Precision = precision
	return c, status.Ok
}

// AddString appends a string-kind leaf, copying s into the shared arena.
func (l *List) AddString(group, token, s string) (*CmdObj, status.Code) {
	c, code := l.AddObject()
	if code != status.Ok {
		return nil, code
	}
	slot, ok := l.arena.Copy(s)
	if !ok {
		return nil, status.NoBufferSpace
	}
	c.Kind = KindString
	c.Group, c.Token = group, token
	c.StringSlot = slot
	return c, status.Ok
}

// AddMessage appends a plain string leaf with no group/token, used for
// the asynchronous exception report's "msg" field.
func (l *List) AddMessage(s string) (*CmdObj, status.Code) {
	return l.AddString("", "msg", s)
}

// CopyString exposes the arena to callers (e.g. jsonproto) that need to
// stash a raw value string on an already-allocated CmdObj before it is
// resolved against the table.
func (l *List) CopyString(s string) (int, bool) {
	return l.arena.Copy(s)
}

// StringAt resolves a CmdObj's StringSlot back to its string value.
func (l *List) StringAt(slot int) string {
	return l.arena.String(slot)
}

// Body iterates the populated (non-Empty) body nodes in list order.
func (l *List) Body() []*CmdObj {
	out := make([]*CmdObj, 0, BodyLen)
	for i := bodyStart; i <= bodyEnd; i++ {
		if l.nodes[i].Kind != KindEmpty {
			out = append(out, &l.nodes[i])
		}
	}
	return out
}
