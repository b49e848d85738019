package cache

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rustlehq/rustle-plan/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// diskTier is the directory-backed on-disk cache tier: plan JSON blobs
// live as files under dir, and an embedded SQLite index (WAL mode,
// golang-migrate managed) tracks metadata, TTLs, and access order for
// eviction without a full directory scan.
type diskTier struct {
	dir      string
	db       *sql.DB
	maxBytes int64
	ttl      time.Duration
}

func newDiskTier(ctx context.Context, dir string, maxBytes int64, ttl time.Duration) (*diskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dbPath := filepath.Join(dir, "index.db")
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache index: %w", err)
	}

	t := &diskTier{dir: dir, db: db, maxBytes: maxBytes, ttl: ttl}
	if err := t.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return t, nil
}

func (t *diskTier) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(t.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (t *diskTier) close() error {
	return t.db.Close()
}

func (t *diskTier) get(ctx context.Context, key Key) (*model.ExecutionPlan, bool, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT file_path, ttl_seconds, created_at
		FROM plan_cache_index WHERE cache_key = ?`, key.String())

	var filePath string
	var ttlSeconds int64
	var createdAt int64
	if err := row.Scan(&filePath, &ttlSeconds, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query cache index: %w", err)
	}

	if ttlSeconds > 0 && time.Now().Unix()-createdAt > ttlSeconds {
		_ = t.delete(ctx, key)
		return nil, false, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			_ = t.delete(ctx, key)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	var plan model.ExecutionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}

	now := time.Now().Unix()
	_, _ = t.db.ExecContext(ctx, `
		UPDATE plan_cache_index
		SET last_access_at = ?, access_count = access_count + 1
		WHERE cache_key = ?`, now, key.String())

	return &plan, true, nil
}

// put writes the plan atomically (write-temp, then rename) then upserts
// the index row. A crash between the write and the rename leaves only an
// orphaned temp file, never a partially-written entry visible under the
// real key.
func (t *diskTier) put(ctx context.Context, key Key, plan *model.ExecutionPlan, ttlSeconds int64) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	finalPath := filepath.Join(t.dir, fmt.Sprintf("%x.json", sumKey(key)))
	tmpPath := filepath.Join(t.dir, fmt.Sprintf("tmp-%s.json", uuid.NewString()))

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp cache entry: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename cache entry: %w", err)
	}

	now := time.Now().Unix()
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO plan_cache_index
			(cache_key, playbook_hash, inventory_hash, options_hash, planner_version,
			 file_path, size_bytes, ttl_seconds, created_at, last_access_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(cache_key) DO UPDATE SET
			file_path = excluded.file_path,
			size_bytes = excluded.size_bytes,
			ttl_seconds = excluded.ttl_seconds,
			created_at = excluded.created_at,
			last_access_at = excluded.last_access_at,
			access_count = plan_cache_index.access_count + 1`,
		key.String(), key.PlaybookHash, key.InventoryHash, key.OptionsHash, key.PlannerVersion,
		finalPath, len(data), ttlSeconds, now, now)
	if err != nil {
		return fmt.Errorf("upsert cache index: %w", err)
	}

	return t.enforceQuota(ctx)
}

func (t *diskTier) delete(ctx context.Context, key Key) error {
	var filePath string
	row := t.db.QueryRowContext(ctx, `SELECT file_path FROM plan_cache_index WHERE cache_key = ?`, key.String())
	if err := row.Scan(&filePath); err == nil {
		_ = os.Remove(filePath)
	}
	_, err := t.db.ExecContext(ctx, `DELETE FROM plan_cache_index WHERE cache_key = ?`, key.String())
	return err
}

// deleteByPrefix removes every entry whose playbook and inventory hashes
// match prefix, returning the number of entries removed.
func (t *diskTier) deleteByPrefix(ctx context.Context, prefix Key) (int64, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT cache_key, file_path FROM plan_cache_index
		WHERE (? = '' OR playbook_hash = ?) AND (? = '' OR inventory_hash = ?)`,
		prefix.PlaybookHash, prefix.PlaybookHash, prefix.InventoryHash, prefix.InventoryHash)
	if err != nil {
		return 0, fmt.Errorf("query prefix: %w", err)
	}
	defer rows.Close()

	var keys, paths []string
	for rows.Next() {
		var k, p string
		if err := rows.Scan(&k, &p); err != nil {
			return 0, err
		}
		keys = append(keys, k)
		paths = append(paths, p)
	}

	for _, p := range paths {
		_ = os.Remove(p)
	}
	var removed int64
	for _, k := range keys {
		if _, err := t.db.ExecContext(ctx, `DELETE FROM plan_cache_index WHERE cache_key = ?`, k); err == nil {
			removed++
		}
	}
	return removed, nil
}

// enforceQuota evicts the least-recently-accessed entries until total size
// is within maxBytes.
func (t *diskTier) enforceQuota(ctx context.Context) error {
	if t.maxBytes <= 0 {
		return nil
	}
	row := t.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM plan_cache_index`)
	var total int64
	if err := row.Scan(&total); err != nil {
		return fmt.Errorf("sum cache size: %w", err)
	}
	if total <= t.maxBytes {
		return nil
	}

	rows, err := t.db.QueryContext(ctx, `
		SELECT cache_key, file_path, size_bytes FROM plan_cache_index
		ORDER BY last_access_at ASC`)
	if err != nil {
		return fmt.Errorf("query eviction candidates: %w", err)
	}
	defer rows.Close()

	for total > t.maxBytes && rows.Next() {
		var key, path string
		var size int64
		if err := rows.Scan(&key, &path, &size); err != nil {
			return err
		}
		_ = os.Remove(path)
		if _, err := t.db.ExecContext(ctx, `DELETE FROM plan_cache_index WHERE cache_key = ?`, key); err != nil {
			return err
		}
		total -= size
	}
	return nil
}

func sumKey(key Key) []byte {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.String()))
	return h.Sum(nil)
}
