package node

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/warrensql/internal/fsm"
)

const applyTimeout = 10 * time.Second

// Apply marshals op/payload into a fsm.Command, replicates it through
// raft, and returns once it's been committed to this node's FSM — the
// single path every cluster-state mutation in this daemon goes
// through, mirroring the teacher's own Manager.applyCommand.
func (c *Context) Apply(op string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("node: encode %s payload: %w", op, err)
	}
	cmd := fsm.Command{Op: op, Data: data}
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("node: encode %s command: %w", op, err)
	}

	future := c.Raft.Apply(raw, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("node: raft apply %s: %w", op, err)
	}
	if resp := future.Response(); resp != nil {
		if applyErr, ok := resp.(error); ok {
			return fmt.Errorf("node: apply %s: %w", op, applyErr)
		}
	}
	return nil
}
