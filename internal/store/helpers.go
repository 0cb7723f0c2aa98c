package store

import (
	"database/sql"

	"github.com/resq108/DispatchPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanSession scans a Session from a single sql.Row.
func scanSession(row *sql.Row) (models.Session, error) {
	var sess models.Session
	var state string
	var emergencyType, location sql.NullString
	err := row.Scan(&sess.Phone, &state, &emergencyType, &location, &sess.CreatedAt, &sess.LastActive)
	if err != nil {
		return sess, err
	}
	sess.State = models.SessionState(state)
	sess.EmergencyType = models.EmergencyType(emergencyType.String)
	sess.Location = location.String
	return sess, nil
}

// scanSessionRows scans a Session from sql.Rows.
func scanSessionRows(rows *sql.Rows) (models.Session, error) {
	var sess models.Session
	var state string
	var emergencyType, location sql.NullString
	err := rows.Scan(&sess.Phone, &state, &emergencyType, &location, &sess.CreatedAt, &sess.LastActive)
	if err != nil {
		return sess, err
	}
	sess.State = models.SessionState(state)
	sess.EmergencyType = models.EmergencyType(emergencyType.String)
	sess.Location = location.String
	return sess, nil
}
