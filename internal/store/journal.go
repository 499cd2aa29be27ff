package store

import (
	"fmt"
	"time"
)

// Change is one entry in the config change journal.
type Change struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Key       string    `json:"key"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	ChangedAt time.Time `json:"changed_at"`
}

// secretKeys are journalled without their values.
var secretKeys = map[string]bool{
	KeyWiFiPassword:    true,
	KeyAPIKey:          true,
	KeyAPPassword:      true,
	KeyLegacyAuthToken: true,
}

// SetFrom writes value under key and journals the change when the value
// differs from what is stored. It reports whether anything was written.
func (s *Store) SetFrom(source, key, value string) (bool, error) {
	old, ok, err := s.Get(key)
	if err != nil {
		return false, err
	}
	if ok && old == value {
		return false, nil
	}
	if err := s.Set(key, value); err != nil {
		return false, err
	}
	if secretKeys[key] {
		old, value = "***", "***"
	}
	if _, err := s.Exec(
		`INSERT INTO config_changes (source, key, old_value, new_value) VALUES (?, ?, ?, ?)`,
		source, key, old, value,
	); err != nil {
		return true, fmt.Errorf("failed to journal %s: %w", key, err)
	}
	return true, nil
}

// RecentChanges returns up to limit journal entries, newest first.
func (s *Store) RecentChanges(limit int) ([]Change, error) {
	rows, err := s.Query(`
		SELECT change_id, source, key, COALESCE(old_value, ''), COALESCE(new_value, ''), changed_at
		FROM config_changes
		ORDER BY change_id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query config changes: %w", err)
	}
	defer rows.Close()

	var out []Change
	for rows.Next() {
		var c Change
		var at int64
		if err := rows.Scan(&c.ID, &c.Source, &c.Key, &c.OldValue, &c.NewValue, &at); err != nil {
			return nil, fmt.Errorf("failed to scan config change: %w", err)
		}
		c.ChangedAt = time.Unix(at, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
