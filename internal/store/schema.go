package store

import (
	"context"
	"fmt"
)

// Initialize creates the job table and its indexes if they do not exist. It
// is safe to call from several processes at once; an advisory lock keyed on
// the table name serializes the DDL.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, s.sql.schema); err != nil {
		return fmt.Errorf("initialize %s: %w", s.table, err)
	}
	return nil
}
