package metastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/HYChou0515/autocrud-sub001/query"
	"github.com/HYChou0515/autocrud-sub001/resource"
)

var registerRegexpOnce sync.Once

const sqliteDriverName = "autocrud-sqlite3"

func registerRegexpDriver() {
	registerRegexpOnce.Do(func() {
		sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return conn.RegisterFunc("regexp", func(pattern, s string) (bool, error) {
					re, err := regexp.Compile(pattern)
					if err != nil {
						return false, err
					}
					return re.MatchString(s), nil
				}, true)
			},
		})
	})
}

// SQLite is the reference MetaStore backend, one table per resource kind
// with a single JSON indexed_data column, the way the teacher favors a
// small number of generically-shaped tables over hand-maintained per-field
// DDL for anything beyond the handful of always-present meta columns.
type SQLite struct {
	db    *sql.DB
	table string
}

// OpenSQLite opens (creating if necessary) dsn and ensures table exists with
// the current schema, upgrading older layouts in place via PRAGMA
// table_info, matching the teacher's backend.go schema-update-lock pattern
// (minus the Postgres advisory lock, since SQLite serializes writers
// itself).
func OpenSQLite(dsn, table string) (*SQLite, error) {
	registerRegexpDriver()
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // mattn/go-sqlite3 connections are not safely sharable under concurrent writers
	s := &SQLite{db: db, table: table}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) ensureSchema() error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		resource_id TEXT PRIMARY KEY,
		current_revision_id TEXT NOT NULL,
		total_revision_count INTEGER NOT NULL,
		created_time TEXT NOT NULL,
		created_by TEXT NOT NULL,
		updated_time TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		schema_version TEXT,
		indexed_data TEXT NOT NULL DEFAULT '{}'
	)`, s.table)
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	if _, err := s.db.Exec(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_is_deleted ON %s(is_deleted)`, s.table, s.table)); err != nil {
		return err
	}
	return s.upgradeSchema()
}

// upgradeSchema adds columns that a pre-existing table created by an older
// version of this package may be missing, inspecting the live schema via
// PRAGMA table_info the way backend.go does before assuming a column
// exists.
func (s *SQLite) upgradeSchema() error {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, s.table))
	if err != nil {
		return err
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &primaryKey); err != nil {
			return err
		}
		existing[name] = true
	}
	required := map[string]string{
		"schema_version": "TEXT",
		"indexed_data":   "TEXT NOT NULL DEFAULT '{}'",
	}
	for col, decl := range required {
		if !existing[col] {
			if _, err := s.db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, s.table, col, decl)); err != nil {
				return fmt.Errorf("add column %s: %w", col, err)
			}
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Get implements Store.
func (s *SQLite) Get(resourceID string) (resource.ResourceMeta, error) {
	row := s.db.QueryRow(fmt.Sprintf(`SELECT %s FROM %s WHERE resource_id = ?`, metaColumns, s.table), resourceID)
	meta, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return resource.ResourceMeta{}, resource.NewError(resource.KindResourceIDNotFound, "resource %s not found", resourceID)
	}
	return meta, err
}

// Exists implements Store.
func (s *SQLite) Exists(resourceID string) (bool, error) {
	var one int
	err := s.db.QueryRow(fmt.Sprintf(`SELECT 1 FROM %s WHERE resource_id = ?`, s.table), resourceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// Put implements Store, an upsert keyed on resource_id.
func (s *SQLite) Put(meta resource.ResourceMeta) error {
	indexed, err := json.Marshal(meta.IndexedData)
	if err != nil {
		return fmt.Errorf("marshal indexed_data: %w", err)
	}
	_, err = s.db.Exec(fmt.Sprintf(`INSERT INTO %s
		(resource_id, current_revision_id, total_revision_count, created_time, created_by, updated_time, updated_by, is_deleted, schema_version, indexed_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			current_revision_id = excluded.current_revision_id,
			total_revision_count = excluded.total_revision_count,
			updated_time = excluded.updated_time,
			updated_by = excluded.updated_by,
			is_deleted = excluded.is_deleted,
			schema_version = excluded.schema_version,
			indexed_data = excluded.indexed_data`, s.table),
		meta.ResourceID, meta.CurrentRevisionID, meta.TotalRevisionCount,
		meta.CreatedTime.UTC().Format(timeLayout), meta.CreatedBy,
		meta.UpdatedTime.UTC().Format(timeLayout), meta.UpdatedBy,
		boolToInt(meta.IsDeleted), meta.SchemaVersion, string(indexed))
	return err
}

// Delete implements Store. The manager's soft-delete path calls Put with
// IsDeleted=true instead; Delete is reserved for hard cleanup (e.g. a
// migration rollback), matching spec section 4's "deletion is soft by
// default" rule.
func (s *SQLite) Delete(resourceID string) error {
	_, err := s.db.Exec(fmt.Sprintf(`DELETE FROM %s WHERE resource_id = ?`, s.table), resourceID)
	return err
}

// Search implements Store by compiling q's condition AST into a SQL WHERE
// clause over json_extract(indexed_data, ...), keeping the field-path-to-
// column translation in one place as spec section 9 asks.
func (s *SQLite) Search(q query.Query) ([]resource.ResourceMeta, int, error) {
	where, args, err := compileQuery(q)
	if err != nil {
		return nil, 0, err
	}

	countSQL := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.table, where)
	var total int
	if err := s.db.QueryRow(countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	selectSQL := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, metaColumns, s.table, where)
	selectSQL += compileOrderBy(q.Sorts)
	selectArgs := append([]interface{}{}, args...)
	if q.Limit > 0 {
		selectSQL += ` LIMIT ?`
		selectArgs = append(selectArgs, q.Limit)
		if q.Offset > 0 {
			selectSQL += ` OFFSET ?`
			selectArgs = append(selectArgs, q.Offset)
		}
	} else if q.Offset > 0 {
		selectSQL += ` LIMIT -1 OFFSET ?`
		selectArgs = append(selectArgs, q.Offset)
	}

	rows, err := s.db.Query(selectSQL, selectArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var out []resource.ResourceMeta
	for rows.Next() {
		meta, err := scanMetaRows(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, meta)
	}
	return out, total, rows.Err()
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

const metaColumns = "resource_id, current_revision_id, total_revision_count, created_time, created_by, updated_time, updated_by, is_deleted, schema_version, indexed_data"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeta(row rowScanner) (resource.ResourceMeta, error) {
	return scanMetaRows(row)
}

func scanMetaRows(row rowScanner) (resource.ResourceMeta, error) {
	var (
		meta          resource.ResourceMeta
		createdTime   string
		updatedTime   string
		isDeleted     int
		schemaVersion sql.NullString
		indexedRaw    string
	)
	err := row.Scan(
		&meta.ResourceID, &meta.CurrentRevisionID, &meta.TotalRevisionCount,
		&createdTime, &meta.CreatedBy, &updatedTime, &meta.UpdatedBy,
		&isDeleted, &schemaVersion, &indexedRaw,
	)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	meta.CreatedTime, err = parseSQLiteTime(createdTime)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	meta.UpdatedTime, err = parseSQLiteTime(updatedTime)
	if err != nil {
		return resource.ResourceMeta{}, err
	}
	meta.IsDeleted = isDeleted != 0
	meta.SchemaVersion = schemaVersion.String
	if err := json.Unmarshal([]byte(indexedRaw), &meta.IndexedData); err != nil {
		return resource.ResourceMeta{}, fmt.Errorf("unmarshal indexed_data: %w", err)
	}
	return meta, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
