package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"obs-showctl/internal/model"
)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(path string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("open", err)
	}
	// a single connection serializes writers and avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("ping", err)
	}
	r := &SQLiteRepo{db: db}
	if err := r.init(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepo) init() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS shows (
		name TEXT PRIMARY KEY,
		updated_at DATETIME
	);
	CREATE TABLE IF NOT EXISTS show_targets (
		show_name TEXT NOT NULL,
		position INTEGER NOT NULL,
		instance_id TEXT NOT NULL,
		state TEXT NOT NULL,
		PRIMARY KEY (show_name, position)
	);
	CREATE TABLE IF NOT EXISTS instances (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		password TEXT NOT NULL DEFAULT ''
	);`)
	if err != nil {
		return unavailable("create schema", err)
	}
	return nil
}

func (r *SQLiteRepo) ListShowNames(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM shows ORDER BY name`)
	if err != nil {
		return nil, unavailable("list shows", err)
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, unavailable("scan show", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list shows", err)
	}
	return names, nil
}

func (r *SQLiteRepo) GetShow(ctx context.Context, name string) (*model.Show, error) {
	var show model.Show
	err := r.db.QueryRowContext(ctx, `SELECT name FROM shows WHERE name = ?`, name).Scan(&show.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: show %s", model.ErrNotFound, name)
	}
	if err != nil {
		return nil, unavailable("get show", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT instance_id, state FROM show_targets WHERE show_name = ? ORDER BY position`, name)
	if err != nil {
		return nil, unavailable("get show targets", err)
	}
	defer rows.Close()
	show.Targets = []model.TargetState{}
	for rows.Next() {
		var t model.TargetState
		if err := rows.Scan(&t.Instance, &t.State); err != nil {
			return nil, unavailable("scan target", err)
		}
		show.Targets = append(show.Targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("get show targets", err)
	}
	return &show, nil
}

func (r *SQLiteRepo) CreateShow(ctx context.Context, show *model.Show) error {
	if err := show.Validate(); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := showExists(ctx, tx, show.Name)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%w: show %s", model.ErrAlreadyExists, show.Name)
		}
		return insertShow(ctx, tx, show)
	})
}

func (r *SQLiteRepo) ReplaceShow(ctx context.Context, name string, show *model.Show) error {
	if err := show.Validate(); err != nil {
		return err
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := showExists(ctx, tx, name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: show %s", model.ErrNotFound, name)
		}
		if show.Name != name {
			taken, err := showExists(ctx, tx, show.Name)
			if err != nil {
				return err
			}
			if taken {
				return fmt.Errorf("%w: show %s", model.ErrAlreadyExists, show.Name)
			}
		}
		if err := deleteShow(ctx, tx, name); err != nil {
			return err
		}
		return insertShow(ctx, tx, show)
	})
}

func (r *SQLiteRepo) DeleteShow(ctx context.Context, name string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := showExists(ctx, tx, name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: show %s", model.ErrNotFound, name)
		}
		return deleteShow(ctx, tx, name)
	})
}

func (r *SQLiteRepo) ListInstances(ctx context.Context) ([]model.Instance, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, url, password FROM instances ORDER BY id`)
	if err != nil {
		return nil, unavailable("list instances", err)
	}
	defer rows.Close()
	out := []model.Instance{}
	for rows.Next() {
		var i model.Instance
		if err := rows.Scan(&i.ID, &i.URL, &i.Password); err != nil {
			return nil, unavailable("scan instance", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list instances", err)
	}
	return out, nil
}

func (r *SQLiteRepo) SaveInstance(ctx context.Context, inst model.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO instances(id, url, password) VALUES(?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET url=excluded.url, password=excluded.password;`,
		inst.ID, inst.URL, inst.Password)
	if err != nil {
		return unavailable("save instance", err)
	}
	return nil
}

func (r *SQLiteRepo) DeleteInstance(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return unavailable("delete instance", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: instance %s", model.ErrNotFound, id)
	}
	return nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepo) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

func showExists(ctx context.Context, tx *sql.Tx, name string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM shows WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("lookup show", err)
	}
	return true, nil
}

func insertShow(ctx context.Context, tx *sql.Tx, show *model.Show) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO shows(name, updated_at) VALUES(?, ?)`,
		show.Name, time.Now().UTC()); err != nil {
		return unavailable("insert show", err)
	}
	for i, t := range show.Targets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO show_targets(show_name, position, instance_id, state) VALUES(?, ?, ?, ?)`,
			show.Name, i, t.Instance, t.State); err != nil {
			return unavailable("insert target", err)
		}
	}
	return nil
}

func deleteShow(ctx context.Context, tx *sql.Tx, name string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM show_targets WHERE show_name = ?`, name); err != nil {
		return unavailable("delete targets", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM shows WHERE name = ?`, name); err != nil {
		return unavailable("delete show", err)
	}
	return nil
}
