package gamedb

import "strings"

// Attribute names the core reads or writes itself.
const (
	AttrPassword  = "PASSWORD"
	AttrSemaphore = "SEMAPHORE"
	AttrQueueMax  = "QUEUEMAX"
	AttrStartup   = "STARTUP"
	AttrLastSite  = "LASTSITE"
)

// Attribute flags.
const (
	AFInternal = 0x01 // never settable from softcode
	AFDark     = 0x02 // hidden from everyone but God
	AFWizard   = 0x04 // only wizards may set
	AFGod      = 0x08 // only God may set
)

// WellKnownAttrFlags maps built-in attribute names to their flags.
var WellKnownAttrFlags = map[string]int{
	AttrPassword:  AFInternal | AFDark,
	AttrSemaphore: AFInternal,
	AttrQueueMax:  AFWizard,
	AttrLastSite:  AFGod | AFDark,
}

// AttrFlags returns the flags of the named attribute.
func AttrFlags(name string) int {
	return WellKnownAttrFlags[strings.ToUpper(name)]
}

// CanSetAttr reports whether actor may write attribute name on obj.
func (db *Database) CanSetAttr(actor, obj DBRef, name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" || strings.ContainsAny(name, " /=") {
		return false
	}
	if !db.Controls(actor, obj) {
		return false
	}
	f := AttrFlags(name)
	switch {
	case f&AFInternal != 0:
		return false
	case f&AFGod != 0:
		return db.IsGod(actor)
	case f&AFWizard != 0:
		return db.Wizard(actor)
	}
	return true
}

// CanSeeAttr reports whether actor may read attribute name on obj.
func (db *Database) CanSeeAttr(actor, obj DBRef, name string) bool {
	if AttrFlags(name)&AFDark != 0 {
		return db.IsGod(actor)
	}
	return db.Controls(actor, obj) || db.SeeQueue(actor)
}
