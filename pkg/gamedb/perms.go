package gamedb

// IsGod returns true if player is the God player.
func (db *Database) IsGod(player DBRef) bool {
	return player == db.God
}

// Inherits returns true if obj inherits privilege from its owner.
// Players always inherit. Non-players inherit if they have INHERIT set,
// or their owner has INHERIT set, or they are their own owner.
func (db *Database) Inherits(obj DBRef) bool {
	o, ok := db.Objects[obj]
	if !ok {
		return false
	}
	if o.Type == TypePlayer || o.HasFlag(FlagInherit) || o.Owner == obj {
		return true
	}
	if ownerObj, ok := db.Objects[o.Owner]; ok {
		return ownerObj.HasFlag(FlagInherit)
	}
	return false
}

// Wizard returns true if obj is an effective wizard: it has WIZARD set
// directly, or its owner does and obj inherits.
func (db *Database) Wizard(obj DBRef) bool {
	o, ok := db.Objects[obj]
	if !ok {
		return false
	}
	if o.HasFlag(FlagWizard) || db.IsGod(obj) {
		return true
	}
	owner, ownerOK := db.Objects[o.Owner]
	return ownerOK && owner.HasFlag(FlagWizard) && db.Inherits(obj)
}

// Royalty returns true if obj has the ROYALTY flag.
// Unlike Wizard, Royalty does not require Inherits.
func (db *Database) Royalty(obj DBRef) bool {
	o, ok := db.Objects[obj]
	return ok && o.HasFlag(FlagRoyalty)
}

// WizRoy returns true if obj is either an effective wizard or royalty.
func (db *Database) WizRoy(obj DBRef) bool {
	return db.Wizard(obj) || db.Royalty(obj)
}

// Guest returns true if obj's owner carries the GUEST power.
func (db *Database) Guest(obj DBRef) bool {
	o, ok := db.Objects[db.Owner(obj)]
	return ok && o.HasPower(0, PowGuest)
}

// Builder returns true if obj (or its owner) can build.
func (db *Database) Builder(obj DBRef) bool {
	if db.Wizard(obj) {
		return true
	}
	o, ok := db.Objects[db.Owner(obj)]
	return ok && o.HasPower(1, Pow2Builder)
}

// Gagged returns true if obj's owner is GAGGED.
func (db *Database) Gagged(obj DBRef) bool {
	o, ok := db.Objects[db.Owner(obj)]
	return ok && o.HasFlag2(Flag2Gagged)
}

// Fixed returns true if obj's owner is FIXED.
func (db *Database) Fixed(obj DBRef) bool {
	o, ok := db.Objects[db.Owner(obj)]
	return ok && o.HasFlag2(Flag2Fixed)
}

// ControlAll returns true if obj has POW_CONTROL_ALL or is an effective wizard.
func (db *Database) ControlAll(obj DBRef) bool {
	if db.Wizard(obj) {
		return true
	}
	o, ok := db.Objects[obj]
	return ok && o.HasPower(0, PowControlAll)
}

// CanHalt returns true if obj may halt anything.
func (db *Database) CanHalt(obj DBRef) bool {
	if db.Wizard(obj) {
		return true
	}
	o, ok := db.Objects[obj]
	return ok && o.HasPower(0, PowHalt)
}

// SeeQueue returns true if obj may list every queue entry.
func (db *Database) SeeQueue(obj DBRef) bool {
	if db.WizRoy(obj) {
		return true
	}
	o, ok := db.Objects[obj]
	return ok && o.HasPower(0, PowSeeQueue)
}

// FreeMoney returns true if obj's owner is exempt from queue charges.
func (db *Database) FreeMoney(obj DBRef) bool {
	owner := db.Owner(obj)
	if db.Wizard(owner) {
		return true
	}
	o, ok := db.Objects[owner]
	return ok && o.HasPower(0, PowFreeMoney)
}

// Controls returns true if who controls what.
//   - God controls everything; only God controls God.
//   - Wizards control everything except God.
//   - Objects control themselves.
//   - Owners control their objects when the object inherits or the
//     controller is not itself a privileged inheritor.
func (db *Database) Controls(who, what DBRef) bool {
	if !db.Valid(what) {
		return false
	}
	if db.IsGod(who) {
		return true
	}
	if db.IsGod(what) {
		return false
	}
	if who == what {
		return true
	}
	if db.ControlAll(who) {
		return true
	}
	if db.Owner(who) == db.Owner(what) {
		if db.Inherits(who) || !db.Inherits(what) {
			return true
		}
	}
	return false
}
