package upgrade

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shuv1337/shuvbot/internal/store/pg"
)

// RequiredSchemaVersion is the schema version this binary runs against.
const RequiredSchemaVersion = pg.RequiredSchemaVersion

// SchemaStatus represents the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// CheckSchema reads schema_migrations and compares it against
// RequiredSchemaVersion. A missing table counts as a fresh database.
func CheckSchema(db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool

	err := db.QueryRow("SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return &SchemaStatus{RequiredVersion: RequiredSchemaVersion, NeedsMigration: true}, nil
	}
	return evaluate(version, dirty, RequiredSchemaVersion), nil
}

func evaluate(version uint, dirty bool, required uint) *SchemaStatus {
	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: required,
		Dirty:           dirty,
	}
	if dirty {
		return s
	}
	switch {
	case version == required:
		s.Compatible = true
	case version < required:
		s.NeedsMigration = true
	}
	return s
}

// Err maps a status onto one of the schema sentinel errors, or nil.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return ErrSchemaDirty
	case s.Compatible:
		return nil
	case s.NeedsMigration:
		return ErrSchemaOutdated
	default:
		return ErrSchemaAhead
	}
}

// FormatError returns a user-friendly error message for the given status.
func FormatError(s *SchemaStatus) string {
	if s.Dirty {
		return fmt.Sprintf(
			"Database schema is in a dirty state (version %d).\n"+
				"A migration most likely failed partway.\n\n"+
				"  Fix:  undo any partial changes of v%d, then shuvbot migrate repair\n"+
				"  Then: shuvbot migrate up\n",
			s.CurrentVersion, s.CurrentVersion,
		)
	}
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf(
			"Database schema (v%d) is newer than this binary (requires v%d).\n\n"+
				"  Fix: upgrade your shuvbot binary.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
	return fmt.Sprintf(
		"Database schema is outdated: current v%d, required v%d.\n\n"+
			"  Run: shuvbot migrate up\n\n"+
			"  Set SHUVBOT_AUTO_MIGRATE=true to migrate automatically on startup.\n",
		s.CurrentVersion, s.RequiredVersion,
	)
}
