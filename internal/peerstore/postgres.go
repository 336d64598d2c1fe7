package peerstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" database/sql driver for migrations

	"github.com/btcrawl/crawlyd/internal/clockrand"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// outboundTypes are the address types get_nodes_to_scan selects: onionv2
// is deliberately excluded (deprecated, spec §4.1).
var outboundTypes = []AddrType{AddrIPv4, AddrIPv6, AddrOnionV3, AddrI2P}

const (
	successBackoffClearnet = 12 * time.Hour
	successBackoffHSMin    = 8 * time.Hour
	successBackoffHSMax    = 16 * time.Hour
	failureBackoffMin      = 4 * time.Hour
	failureBackoffMax      = 24 * time.Hour
	pruneFailureThreshold  = 3
	cleanDBRetention       = 48 * time.Hour
)

// Postgres is the production Store implementation, backed by a pgx
// connection pool.
type Postgres struct {
	pool  *pgxpool.Pool
	clock clockrand.Source
}

// Open connects to dsn, applies pending migrations, and returns a ready
// Store. The caller owns the returned Postgres and must call Close.
func Open(ctx context.Context, dsn string, clock clockrand.Source) (*Postgres, error) {
	if err := migrateUp(dsn); err != nil {
		return nil, fmt.Errorf("peerstore: migrate: %w", err)
	}

	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("peerstore: connect: %w", err)
	}

	return &Postgres{pool: pool, clock: clock}, nil
}

func migrateUp(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Seed(ctx context.Context, endpoints []DiscoveredNode) error {
	var count int64
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM peers`).Scan(&count); err != nil {
		return fmt.Errorf("peerstore: seed count: %w", err)
	}
	if count > 0 {
		return nil
	}

	return p.BatchUpsert(ctx, endpoints)
}

func (p *Postgres) GetNodesToScan(ctx context.Context, limit int) ([]NodeToScan, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT address, type, port
		FROM peers
		WHERE (next_attempt_time < now() OR next_attempt_time IS NULL)
		  AND type = ANY($1)
		ORDER BY next_attempt_time ASC NULLS FIRST
		LIMIT $2
	`, addrTypeStrings(outboundTypes), limit)
	if err != nil {
		return nil, fmt.Errorf("peerstore: get_nodes_to_scan: %w", err)
	}
	defer rows.Close()

	var out []NodeToScan
	for rows.Next() {
		var addr, typ string
		var port int32
		if err := rows.Scan(&addr, &typ, &port); err != nil {
			return nil, fmt.Errorf("peerstore: get_nodes_to_scan scan: %w", err)
		}
		out = append(out, NodeToScan{
			Address: addr,
			Type:    AddrType(typ),
			Host:    addr,
			Port:    uint16(port),
		})
	}

	return out, rows.Err()
}

func (p *Postgres) Upsert(ctx context.Context, typ AddrType, addr string, port uint16, services string) error {
	addr = NormalizeAddress(addr)

	_, err := p.pool.Exec(ctx, `
		INSERT INTO peers (address, type, port, services, added, detected)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (address) DO UPDATE SET detected = now()
	`, addr, string(typ), int32(port), services)
	if err != nil {
		return fmt.Errorf("peerstore: upsert %s: %w", addr, err)
	}

	return nil
}

// BatchUpsert applies the same insert-or-touch-detected semantics as
// Upsert to many rows in one round trip. It does not retry on deadlock
// itself — that's the ingest pipeline's job (spec §4.7 step 7) — but it
// does return the underlying *pgconn.PgError unwrapped-enough for
// IsDeadlock to classify it.
func (p *Postgres) BatchUpsert(ctx context.Context, nodes []DiscoveredNode) error {
	if len(nodes) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range nodes {
		addr := NormalizeAddress(n.Addr)
		batch.Queue(`
			INSERT INTO peers (address, type, port, services, added, detected)
			VALUES ($1, $2, $3, $4, now(), now())
			ON CONFLICT (address) DO UPDATE SET detected = now()
		`, addr, string(n.Type), int32(n.Port), n.Services)
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range nodes {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("peerstore: batch_upsert: %w", err)
		}
	}

	return nil
}

func (p *Postgres) UpdateHandshakeInfo(ctx context.Context, addr string, info HandshakeInfo) error {
	return p.updateHandshake(ctx, addr, info, true)
}

func (p *Postgres) UpdateInboundNodeInfo(ctx context.Context, addr string, info HandshakeInfo) error {
	return p.updateHandshake(ctx, addr, info, false)
}

func (p *Postgres) updateHandshake(ctx context.Context, addr string, info HandshakeInfo, setIncoming bool) error {
	addr = NormalizeAddress(addr)

	query := `
		UPDATE peers SET
			soft = $2,
			services = $3,
			protocol_version = $4,
			start_height = $5,
			relay = $6
		WHERE address = $1
	`
	if setIncoming {
		query = `
			UPDATE peers SET
				soft = $2,
				services = $3,
				protocol_version = $4,
				start_height = $5,
				relay = $6,
				incoming = true
			WHERE address = $1
		`
	}

	_, err := p.pool.Exec(ctx, query, addr, info.UserAgent, info.Services,
		info.ProtocolVersion, info.StartHeight, info.Relay)
	if err != nil {
		return fmt.Errorf("peerstore: update_handshake_info %s: %w", addr, err)
	}

	return nil
}

func (p *Postgres) HandleSuccessfulConnection(ctx context.Context, addr string) error {
	addr = NormalizeAddress(addr)

	var typ string
	err := p.pool.QueryRow(ctx, `SELECT type FROM peers WHERE address = $1`, addr).Scan(&typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("peerstore: handle_successful_connection: unknown peer %s", addr)
	}
	if err != nil {
		return fmt.Errorf("peerstore: handle_successful_connection lookup %s: %w", addr, err)
	}

	delta := successBackoffClearnet
	if AddrType(typ).IsHiddenService() {
		delta = p.clock.Jitter(successBackoffHSMin, successBackoffHSMax)
	}
	next := p.clock.Now().Add(delta)

	_, err = p.pool.Exec(ctx, `
		UPDATE peers SET
			scanned = now(),
			incoming = true,
			consecutive_failures = 0,
			reliability_score = reliability_score + 1,
			next_attempt_time = $2
		WHERE address = $1
	`, addr, next)
	if err != nil {
		return fmt.Errorf("peerstore: handle_successful_connection %s: %w", addr, err)
	}

	return nil
}

func (p *Postgres) HandleFailedConnection(ctx context.Context, addr string) error {
	addr = NormalizeAddress(addr)

	delta := p.clock.Jitter(failureBackoffMin, failureBackoffMax)
	next := p.clock.Now().Add(delta)

	var failures int32
	var typ string
	err := p.pool.QueryRow(ctx, `
		UPDATE peers SET
			consecutive_failures = consecutive_failures + 1,
			reliability_score = reliability_score - 1,
			next_attempt_time = $2
		WHERE address = $1
		RETURNING consecutive_failures, type
	`, addr, next).Scan(&failures, &typ)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("peerstore: handle_failed_connection: unknown peer %s", addr)
	}
	if err != nil {
		return fmt.Errorf("peerstore: handle_failed_connection %s: %w", addr, err)
	}

	if failures < pruneFailureThreshold {
		return nil
	}

	if AddrType(typ).IsOnion() {
		if _, err := p.pool.Exec(ctx, `DELETE FROM peers WHERE address = $1`, addr); err != nil {
			return fmt.Errorf("peerstore: prune onion peer %s: %w", addr, err)
		}
		log.Infof("pruned unreliable hidden-service peer %s after %d failures", addr, failures)
		return nil
	}

	if _, err := p.pool.Exec(ctx, `UPDATE peers SET incoming = false WHERE address = $1`, addr); err != nil {
		return fmt.Errorf("peerstore: mark unreachable %s: %w", addr, err)
	}

	return nil
}

func (p *Postgres) CleanDB(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM peers WHERE detected < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int64(cleanDBRetention.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("peerstore: clean_db: %w", err)
	}

	return tag.RowsAffected(), nil
}

// IsDeadlock reports whether err is a Postgres deadlock_detected error
// (SQLSTATE 40P01), the only class of store error the ingest pipeline
// retries on, per spec §4.7 step 7.
func IsDeadlock(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.DeadlockDetected
	}
	return false
}

func addrTypeStrings(types []AddrType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
