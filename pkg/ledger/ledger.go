// Package ledger meters queue costs in pennies. Memory works on the
// in-memory world; SQL keeps balances and a journal in SQLite.
package ledger

import (
	"github.com/crystal-mush/mushcore/pkg/gamedb"
)

// Memory charges the Pennies field of owner objects.
type Memory struct {
	DB *gamedb.Database
}

// NewMemory returns a ledger over db.
func NewMemory(db *gamedb.Database) *Memory {
	return &Memory{DB: db}
}

// Charge takes amount from owner if it can pay.
func (m *Memory) Charge(owner gamedb.DBRef, amount int) bool {
	obj, ok := m.DB.Get(owner)
	if !ok {
		return false
	}
	if amount <= 0 {
		return true
	}
	if obj.Pennies < amount {
		return false
	}
	obj.Pennies -= amount
	return true
}

// Refund gives amount back to owner.
func (m *Memory) Refund(owner gamedb.DBRef, amount int) {
	if obj, ok := m.DB.Get(owner); ok && amount > 0 {
		obj.Pennies += amount
	}
}

// Balance returns owner's pennies.
func (m *Memory) Balance(owner gamedb.DBRef) int {
	if obj, ok := m.DB.Get(owner); ok {
		return obj.Pennies
	}
	return 0
}
