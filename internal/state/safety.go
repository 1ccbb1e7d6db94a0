package state

import (
	"database/sql"
	"fmt"

	"github.com/gao-dev/gao-dev/internal/store"
	"github.com/gao-dev/gao-dev/pkg/models"
)

// LoadSafetyStates returns the safety rows for an epic keyed by
// ceremony type. Rows are seeded at epic creation, so a missing row
// means the epic does not exist.
func (c *Coordinator) LoadSafetyStates(epicNum int) (map[models.CeremonyType]models.SafetyState, error) {
	rows, err := c.store.Query(`
		SELECT epic_num, type, last_held_at, consecutive_failures, circuit, total_ceremonies
		FROM safety_state WHERE epic_num = ?`, epicNum)
	if err != nil {
		return nil, fmt.Errorf("load safety states: %w", err)
	}
	defer rows.Close()

	out := make(map[models.CeremonyType]models.SafetyState)
	for rows.Next() {
		var st models.SafetyState
		var typ, circuit string
		var lastHeld sql.NullString
		if err := rows.Scan(&st.EpicNum, &typ, &lastHeld, &st.ConsecutiveFailures, &circuit, &st.TotalCeremoniesThisEpic); err != nil {
			return nil, fmt.Errorf("scan safety state: %w", err)
		}
		st.Type = models.CeremonyType(typ)
		st.Circuit = models.CircuitState(circuit)
		if lastHeld.Valid {
			if st.LastHeldAt, err = store.ParseTime(lastHeld.String); err != nil {
				return nil, fmt.Errorf("parse last_held_at: %w", err)
			}
		}
		out[st.Type] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no safety state for epic %d", epicNum)
	}
	return out, nil
}

// SaveSafetyState writes back a safety row after the guard recorded an
// outcome outside a ceremony transaction.
func (c *Coordinator) SaveSafetyState(st models.SafetyState) error {
	var lastHeld any
	if !st.LastHeldAt.IsZero() {
		lastHeld = store.FormatTime(st.LastHeldAt)
	}
	res, err := c.store.Exec(`
		UPDATE safety_state
		SET last_held_at = ?, consecutive_failures = ?, circuit = ?, total_ceremonies = ?
		WHERE epic_num = ? AND type = ?`,
		lastHeld, st.ConsecutiveFailures, string(st.Circuit),
		st.TotalCeremoniesThisEpic, st.EpicNum, string(st.Type))
	if err != nil {
		return fmt.Errorf("save safety state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no safety state for epic %d type %s", st.EpicNum, st.Type)
	}
	return nil
}
