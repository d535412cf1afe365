package gamedb

import (
	"sort"
	"strings"
)

// DBRef is the fundamental object reference type in MUSH.
type DBRef int

const (
	Nothing   DBRef = -1
	Ambiguous DBRef = -2
	Home      DBRef = -3
	NoPerm    DBRef = -4
)

// ObjectType represents the type of a MUSH object.
type ObjectType int

const (
	TypeRoom    ObjectType = 0
	TypeThing   ObjectType = 1
	TypeExit    ObjectType = 2
	TypePlayer  ObjectType = 3
	TypeGarbage ObjectType = 5
)

func (t ObjectType) String() string {
	switch t {
	case TypeRoom:
		return "ROOM"
	case TypeThing:
		return "THING"
	case TypeExit:
		return "EXIT"
	case TypePlayer:
		return "PLAYER"
	case TypeGarbage:
		return "GARBAGE"
	default:
		return "UNKNOWN"
	}
}

// ParseObjectType maps a type name (ROOM, THING, EXIT, PLAYER) to its ObjectType.
func ParseObjectType(name string) (ObjectType, bool) {
	switch strings.ToUpper(name) {
	case "ROOM":
		return TypeRoom, true
	case "THING", "OBJECT":
		return TypeThing, true
	case "EXIT":
		return TypeExit, true
	case "PLAYER":
		return TypePlayer, true
	}
	return TypeGarbage, false
}

// Flag constants - first word
const (
	FlagWizard  = 0x00000010
	FlagDark    = 0x00000040
	FlagHaven   = 0x00000400
	FlagQuiet   = 0x00000800
	FlagHalt    = 0x00001000
	FlagTrace   = 0x00002000
	FlagGoing   = 0x00004000
	FlagPuppet  = 0x00020000
	FlagInherit = 0x02000000
	FlagRoyalty = 0x20000000
)

// Flag constants - second word
const (
	Flag2Connected = 0x00000200
	Flag2Gagged    = 0x08000000
	Flag2Staff     = 0x10000000
	Flag2Fixed     = 0x40000000
)

// Power constants - first word (Powers[0])
const (
	PowHalt       = 0x00000010
	PowControlAll = 0x00000020
	PowFreeMoney  = 0x00000200
	PowSeeQueue   = 0x00100000
	PowGuest      = 0x02000000
)

// Power constants - second word (Powers[1])
const (
	Pow2Builder = 0x00000001
)

// flagNames maps the user-visible flag names to (word, bit).
var flagNames = map[string][2]int{
	"WIZARD":    {0, FlagWizard},
	"DARK":      {0, FlagDark},
	"HAVEN":     {0, FlagHaven},
	"QUIET":     {0, FlagQuiet},
	"HALT":      {0, FlagHalt},
	"HALTED":    {0, FlagHalt},
	"TRACE":     {0, FlagTrace},
	"GOING":     {0, FlagGoing},
	"PUPPET":    {0, FlagPuppet},
	"INHERIT":   {0, FlagInherit},
	"ROYALTY":   {0, FlagRoyalty},
	"CONNECTED": {1, Flag2Connected},
	"GAGGED":    {1, Flag2Gagged},
	"STAFF":     {1, Flag2Staff},
	"FIXED":     {1, Flag2Fixed},
}

var powerNames = map[string][2]int{
	"HALT":        {0, PowHalt},
	"CONTROL_ALL": {0, PowControlAll},
	"FREE_MONEY":  {0, PowFreeMoney},
	"SEE_QUEUE":   {0, PowSeeQueue},
	"GUEST":       {0, PowGuest},
	"BUILDER":     {1, Pow2Builder},
}

// LookupFlag resolves a flag name to its (word, bit) pair.
func LookupFlag(name string) (word, bit int, ok bool) {
	v, ok := flagNames[strings.ToUpper(name)]
	return v[0], v[1], ok
}

// LookupPower resolves a power name to its (word, bit) pair.
func LookupPower(name string) (word, bit int, ok bool) {
	v, ok := powerNames[strings.ToUpper(name)]
	return v[0], v[1], ok
}

// Object represents a MUSH database object.
type Object struct {
	DBRef    DBRef             `json:"dbref"`
	Name     string            `json:"name"`
	Type     ObjectType        `json:"type"`
	Location DBRef             `json:"location"`
	Link     DBRef             `json:"link"` // exit destination or home
	Owner    DBRef             `json:"owner"`
	Pennies  int               `json:"pennies"`
	Flags    [2]int            `json:"flags"`
	Powers   [2]int            `json:"powers"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

// HasFlag checks if a flag bit is set in the first flag word.
func (o *Object) HasFlag(flag int) bool {
	return o.Flags[0]&flag != 0
}

// HasFlag2 checks if a flag bit is set in the second flag word.
func (o *Object) HasFlag2(flag int) bool {
	return o.Flags[1]&flag != 0
}

// HasPower checks if a power bit is set in the given power word (0 or 1).
func (o *Object) HasPower(word, bit int) bool {
	if word < 0 || word > 1 {
		return false
	}
	return o.Powers[word]&bit != 0
}

// IsGoing returns true if the object is marked for destruction.
func (o *Object) IsGoing() bool {
	return o.HasFlag(FlagGoing)
}

// Database holds the in-memory world consulted by the command core.
// It is not synchronized; callers serialize access (the server holds one
// game mutex around every dispatch, tick and run).
type Database struct {
	Objects map[DBRef]*Object
	God     DBRef
	next    DBRef
}

// NewDatabase creates an empty Database with #1 as God.
func NewDatabase() *Database {
	return &Database{
		Objects: make(map[DBRef]*Object),
		God:     1,
	}
}

// Add inserts an object under its own DBRef, replacing any previous one.
func (db *Database) Add(obj *Object) {
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]string)
	}
	db.Objects[obj.DBRef] = obj
	if obj.DBRef >= db.next {
		db.next = obj.DBRef + 1
	}
}

// Create allocates the next DBRef and adds a new object.
func (db *Database) Create(name string, typ ObjectType, owner, loc DBRef) *Object {
	ref := db.next
	obj := &Object{
		DBRef:    ref,
		Name:     name,
		Type:     typ,
		Location: loc,
		Link:     Nothing,
		Owner:    owner,
	}
	if owner == Nothing {
		obj.Owner = ref
	}
	db.Add(obj)
	return obj
}

// Get returns the object for ref.
func (db *Database) Get(ref DBRef) (*Object, bool) {
	obj, ok := db.Objects[ref]
	return obj, ok
}

// Valid reports whether ref names a live object.
func (db *Database) Valid(ref DBRef) bool {
	obj, ok := db.Objects[ref]
	return ok && !obj.IsGoing() && obj.Type != TypeGarbage
}

// TypeOf returns the object type of ref, or TypeGarbage if it does not exist.
func (db *Database) TypeOf(ref DBRef) ObjectType {
	if obj, ok := db.Objects[ref]; ok {
		return obj.Type
	}
	return TypeGarbage
}

// Owner returns the owner of ref. Players own themselves.
func (db *Database) Owner(ref DBRef) DBRef {
	obj, ok := db.Objects[ref]
	if !ok {
		return Nothing
	}
	if obj.Type == TypePlayer {
		return ref
	}
	return obj.Owner
}

// Name returns the object's name, or "*NOTHING*".
func (db *Database) Name(ref DBRef) string {
	if obj, ok := db.Objects[ref]; ok {
		return obj.Name
	}
	return "*NOTHING*"
}

// Location returns the location of ref.
func (db *Database) Location(ref DBRef) DBRef {
	if obj, ok := db.Objects[ref]; ok {
		return obj.Location
	}
	return Nothing
}

// GetAttr returns the named attribute's value, or "".
func (db *Database) GetAttr(ref DBRef, name string) string {
	obj, ok := db.Objects[ref]
	if !ok {
		return ""
	}
	return obj.Attrs[strings.ToUpper(name)]
}

// SetAttr stores a named attribute. An empty value clears it.
func (db *Database) SetAttr(ref DBRef, name, value string) bool {
	obj, ok := db.Objects[ref]
	if !ok {
		return false
	}
	if obj.Attrs == nil {
		obj.Attrs = make(map[string]string)
	}
	name = strings.ToUpper(name)
	if value == "" {
		delete(obj.Attrs, name)
	} else {
		obj.Attrs[name] = value
	}
	return true
}

// AttrNames returns the sorted attribute names on ref.
func (db *Database) AttrNames(ref DBRef) []string {
	obj, ok := db.Objects[ref]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(obj.Attrs))
	for name := range obj.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetFlag sets or clears a flag by name. Returns false for an unknown flag.
func (db *Database) SetFlag(ref DBRef, name string, set bool) bool {
	obj, ok := db.Objects[ref]
	if !ok {
		return false
	}
	word, bit, ok := LookupFlag(name)
	if !ok {
		return false
	}
	if set {
		obj.Flags[word] |= bit
	} else {
		obj.Flags[word] &^= bit
	}
	return true
}

// HasFlagName reports whether ref has the named flag.
func (db *Database) HasFlagName(ref DBRef, name string) bool {
	obj, ok := db.Objects[ref]
	if !ok {
		return false
	}
	word, bit, ok := LookupFlag(name)
	return ok && obj.Flags[word]&bit != 0
}

// HasPowerName reports whether ref has the named power.
func (db *Database) HasPowerName(ref DBRef, name string) bool {
	obj, ok := db.Objects[ref]
	if !ok {
		return false
	}
	word, bit, ok := LookupPower(name)
	return ok && obj.HasPower(word, bit)
}

// LookupPlayer finds a player by exact (case-insensitive) name.
func (db *Database) LookupPlayer(name string) DBRef {
	name = strings.TrimPrefix(strings.TrimSpace(name), "*")
	for ref, obj := range db.Objects {
		if obj.Type == TypePlayer && !obj.IsGoing() && strings.EqualFold(obj.Name, name) {
			return ref
		}
	}
	return Nothing
}

// Contents returns the objects located in loc, in DBRef order.
func (db *Database) Contents(loc DBRef) []DBRef {
	var refs []DBRef
	for ref, obj := range db.Objects {
		if obj.Location == loc && obj.Type != TypeExit && !obj.IsGoing() {
			refs = append(refs, ref)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i] < refs[j] })
	return refs
}

// MatchExit finds an exit in actor's location whose name or ;-alias equals name.
func (db *Database) MatchExit(actor DBRef, name string) DBRef {
	loc := db.Location(actor)
	if loc == Nothing || name == "" {
		return Nothing
	}
	match := Nothing
	for ref, obj := range db.Objects {
		if obj.Type != TypeExit || obj.Location != loc || obj.IsGoing() {
			continue
		}
		for _, alias := range strings.Split(obj.Name, ";") {
			if strings.EqualFold(strings.TrimSpace(alias), name) {
				if match == Nothing || ref < match {
					match = ref
				}
			}
		}
	}
	return match
}

// ExitName returns the display name of an exit (the part before the first ';').
func (db *Database) ExitName(ref DBRef) string {
	name := db.Name(ref)
	if i := strings.IndexByte(name, ';'); i >= 0 {
		return name[:i]
	}
	return name
}
