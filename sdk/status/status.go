// Package status holds the bot's three health flags.
//
// Every flag is a last-write-wins register: Set overwrites unconditionally and
// concurrent writers of the same flag race. A Snapshot is only what the cells
// held at the moment it was taken, not the outcome of any single message.
package status

import (
	"fmt"
	"sync/atomic"
)

type Flag int

const (
	ConnectionAlive Flag = iota + 1
	PersistenceHealthy
	ClassifierHealthy
)

func (f Flag) String() string {
	switch f {
	case ConnectionAlive:
		return "connectionAlive"
	case PersistenceHealthy:
		return "persistenceHealthy"
	case ClassifierHealthy:
		return "classifierHealthy"
	default:
		return fmt.Sprintf("flag(%d)", int(f))
	}
}

// Snapshot is the value of all three flags at one point in time.
type Snapshot struct {
	ConnectionAlive    bool `json:"connectionAlive"`
	PersistenceHealthy bool `json:"persistenceHealthy"`
	ClassifierHealthy  bool `json:"classifierHealthy"`
}

// Register is the narrow read/write view handed to the pipeline, the
// lifecycle and the health surface.
type Register interface {
	Set(flag Flag, value bool)
	Snapshot() Snapshot
}

// Tracker is the process-wide Register. The zero value has every flag false.
type Tracker struct {
	connection  atomic.Bool
	persistence atomic.Bool
	classifier  atomic.Bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

var _ Register = (*Tracker)(nil)

// Set overwrites flag. Unknown flags are ignored.
func (t *Tracker) Set(flag Flag, value bool) {
	if cell := t.cell(flag); cell != nil {
		cell.Store(value)
	}
}

// Get returns the current value of a single flag.
func (t *Tracker) Get(flag Flag) bool {
	if cell := t.cell(flag); cell != nil {
		return cell.Load()
	}
	return false
}

func (t *Tracker) Snapshot() Snapshot {
	return Snapshot{
		ConnectionAlive:    t.connection.Load(),
		PersistenceHealthy: t.persistence.Load(),
		ClassifierHealthy:  t.classifier.Load(),
	}
}

func (t *Tracker) cell(flag Flag) *atomic.Bool {
	switch flag {
	case ConnectionAlive:
		return &t.connection
	case PersistenceHealthy:
		return &t.persistence
	case ClassifierHealthy:
		return &t.classifier
	}
	return nil
}
