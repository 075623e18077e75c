package bot

import (
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type registeredCommand struct {
	cmd    Command
	schema *jsonschema.Schema
}

// Registry is the static command table. It is built once at start-up and
// never mutated afterwards, so lookups need no locking.
type Registry struct {
	order    []CommandID
	commands map[CommandID]registeredCommand
}

// NewRegistry builds the table from the closed set of expected ids.
// It fails if an expected id has no command, a command id is not expected,
// an id is registered twice, or a command has no handler.
func NewRegistry(expected []CommandID, cmds ...Command) (*Registry, error) {
	want := make(map[CommandID]bool, len(expected))
	for _, id := range expected {
		if id == "" {
			return nil, errors.New("registry: empty command id")
		}
		if want[id] {
			return nil, fmt.Errorf("registry: command id %q listed twice", id)
		}
		want[id] = true
	}

	r := &Registry{commands: make(map[CommandID]registeredCommand, len(cmds))}
	for _, c := range cmds {
		if !want[c.ID] {
			return nil, fmt.Errorf("registry: unknown command id %q", c.ID)
		}
		if _, dup := r.commands[c.ID]; dup {
			return nil, fmt.Errorf("registry: command %q registered twice", c.ID)
		}
		if c.Handler == nil {
			return nil, fmt.Errorf("registry: command %q has no handler", c.ID)
		}
		schema, err := compileOptionsSchema(c)
		if err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
		r.commands[c.ID] = registeredCommand{cmd: c, schema: schema}
	}

	var missing []CommandID
	for _, id := range expected {
		if _, ok := r.commands[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("registry: no handler for %v", missing)
	}

	r.order = append(r.order, expected...)
	return r, nil
}

// Lookup performs an exact, case-sensitive match on the command name.
func (r *Registry) Lookup(name string) (Command, bool) {
	if r == nil {
		return Command{}, false
	}
	rc, ok := r.commands[CommandID(name)]
	return rc.cmd, ok
}

func (r *Registry) schemaFor(id CommandID) *jsonschema.Schema {
	return r.commands[id].schema
}

// Definitions returns the publishable definitions in declaration order.
func (r *Registry) Definitions() []CommandDefinition {
	if r == nil {
		return nil
	}
	out := make([]CommandDefinition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.commands[id].cmd.Definition())
	}
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}
