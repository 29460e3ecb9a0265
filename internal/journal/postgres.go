package journal

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"distributed-ddlock/internal/lock"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS bdr_global_locks (
	lock_kind_name text NOT NULL,
	holder_sysid   text NOT NULL,
	holder_tli     oid  NOT NULL,
	holder_dbid    oid  NOT NULL,
	acquired_at    timestamptz NOT NULL DEFAULT now(),
	owner_sysid    text NOT NULL,
	owner_tli      oid  NOT NULL,
	owner_dbid     oid  NOT NULL,
	name           text,
	status         text NOT NULL,
	UNIQUE (holder_sysid, holder_tli, holder_dbid)
)`

const pgUniqueViolation = "23505"

// Postgres is the real-table Journal adapter: one row per holder triple in
// bdr_global_locks, matching the schema a deployed cluster actually
// queries with psql. Every write uses the pool's default isolation and
// relies on Postgres committing synchronously — the journal table carries
// no special synchronous_commit override of its own. The Coordinator
// calls Promote, which commits in its own transaction, separately from
// the CONFIRM send; TxPromote is available for running the update inside
// a caller's transaction.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgres wraps an already-connected pool. Call EnsureSchema once at
// startup before relying on the table existing.
func NewPostgres(pool *pgxpool.Pool, log zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, log: log.With().Str("component", "journal").Logger()}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaDDL)
	return err
}

func (p *Postgres) InsertCatchup(ctx context.Context, row Row) error {
	const q = `
INSERT INTO bdr_global_locks
	(lock_kind_name, holder_sysid, holder_tli, holder_dbid,
	 owner_sysid, owner_tli, owner_dbid, name, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'catchup')`

	_, err := p.pool.Exec(ctx, q,
		row.Kind.String(),
		strconv.FormatUint(row.Holder.SysID, 10), row.Holder.Timeline, row.Holder.DBID,
		strconv.FormatUint(row.Owner.SysID, 10), row.Owner.Timeline, row.Owner.DBID,
		nullString(row.Name),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrUniqueViolation
		}
		return fmt.Errorf("journal: insert catchup: %w", err)
	}
	return nil
}

// TxPromote runs Promote inside an already-open pgx.Tx, letting the caller
// commit it atomically alongside a CONFIRM send. Promote itself opens and
// commits its own transaction.
func (p *Postgres) TxPromote(ctx context.Context, tx pgx.Tx, dbid uint32, holder lock.NodeID) error {
	return promote(ctx, tx, dbid, holder)
}

func (p *Postgres) Promote(ctx context.Context, dbid uint32, holder lock.NodeID) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal: begin promote: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := promote(ctx, tx, dbid, holder); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func promote(ctx context.Context, tx pgx.Tx, dbid uint32, holder lock.NodeID) error {
	const q = `
UPDATE bdr_global_locks SET status = 'acquired'
WHERE holder_sysid = $1 AND holder_tli = $2 AND holder_dbid = $3`

	tag, err := tx.Exec(ctx, q, strconv.FormatUint(holder.SysID, 10), holder.Timeline, dbid)
	if err != nil {
		return fmt.Errorf("journal: promote: %w", err)
	}
	switch n := tag.RowsAffected(); {
	case n == 0:
		return ErrNotFound
	case n > 1:
		return ErrAmbiguous
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, dbid uint32, holder lock.NodeID) (int, error) {
	const q = `
DELETE FROM bdr_global_locks
WHERE holder_sysid = $1 AND holder_tli = $2 AND holder_dbid = $3`

	tag, err := p.pool.Exec(ctx, q, strconv.FormatUint(holder.SysID, 10), holder.Timeline, dbid)
	if err != nil {
		return 0, fmt.Errorf("journal: delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) ScanDatabase(ctx context.Context, dbid uint32) ([]Row, error) {
	const q = `
SELECT lock_kind_name, holder_sysid, holder_tli, holder_dbid,
       acquired_at, owner_sysid, owner_tli, owner_dbid,
       coalesce(name, ''), status
FROM bdr_global_locks
WHERE holder_dbid = $1`

	rows, err := p.pool.Query(ctx, q, dbid)
	if err != nil {
		return nil, fmt.Errorf("journal: scan database: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, dbid)
}

func (p *Postgres) DeleteByHolderNode(ctx context.Context, origin lock.NodeID) ([]Row, error) {
	const selectQ = `
SELECT lock_kind_name, holder_sysid, holder_tli, holder_dbid,
       acquired_at, owner_sysid, owner_tli, owner_dbid,
       coalesce(name, ''), status
FROM bdr_global_locks
WHERE holder_sysid = $1 AND holder_tli = $2`

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("journal: begin delete-by-node: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectQ, strconv.FormatUint(origin.SysID, 10), origin.Timeline)
	if err != nil {
		return nil, fmt.Errorf("journal: select for delete-by-node: %w", err)
	}
	removed, err := scanRows(rows, 0)
	rows.Close()
	if err != nil {
		return nil, err
	}

	const deleteQ = `DELETE FROM bdr_global_locks WHERE holder_sysid = $1 AND holder_tli = $2`
	if _, err := tx.Exec(ctx, deleteQ, strconv.FormatUint(origin.SysID, 10), origin.Timeline); err != nil {
		return nil, fmt.Errorf("journal: delete-by-node: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("journal: commit delete-by-node: %w", err)
	}

	p.log.Info().Str("origin", origin.String()).Int("rows", len(removed)).Msg("deleted journal rows for restarted node")
	return removed, nil
}

func scanRows(rows pgx.Rows, filterDBID uint32) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var (
			kindName              string
			holderSysidS          string
			holderTli, holderDbid uint32
			acquiredAt            time.Time
			ownerSysidS           string
			ownerTli, ownerDbid   uint32
			name, status          string
		)
		if err := rows.Scan(&kindName, &holderSysidS, &holderTli, &holderDbid,
			&acquiredAt, &ownerSysidS, &ownerTli, &ownerDbid, &name, &status); err != nil {
			return nil, fmt.Errorf("journal: scan row: %w", err)
		}
		if filterDBID != 0 && holderDbid != filterDBID {
			continue
		}
		kind, _ := lock.ParseKind(kindName)
		holderSysid, err := strconv.ParseUint(holderSysidS, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("journal: parse holder_sysid: %w", err)
		}
		ownerSysid, err := strconv.ParseUint(ownerSysidS, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("journal: parse owner_sysid: %w", err)
		}
		out = append(out, Row{
			DBID:       holderDbid,
			Kind:       kind,
			Holder:     lock.NodeID{SysID: holderSysid, Timeline: holderTli, DBID: holderDbid},
			Owner:      lock.NodeID{SysID: ownerSysid, Timeline: ownerTli, DBID: ownerDbid},
			Name:       name,
			Status:     Status(status),
			AcquiredAt: acquiredAt,
		})
	}
	return out, rows.Err()
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
