// Package metadata implements C3: the durable, transactional record
// store for providers, versions, artifact bindings, and the artifact id
// sequence. It is backed by PostgreSQL, reached through database/sql via
// the pgx stdlib driver, with non-trivial statements built with goqu
// rather than hand-concatenated strings.
package metadata

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	goversion "github.com/hashicorp/go-version"
	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/tfproviders/provider-mirror/pkg/core"
)

// Store is the pooled, transactional metadata store (C3).
type Store struct {
	db      *sql.DB
	goqu    *goqu.Database
	timeout time.Duration
}

// Config configures the connection pool. PoolSize and AcquireTimeout
// default to 5 and 10s respectively per spec.md §5.
type Config struct {
	DSN            string
	PoolSize       int
	AcquireTimeout time.Duration
}

func New(cfg Config) (*Store, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 5
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "open connection pool", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)

	return &Store{
		db:      db,
		goqu:    goqu.New("postgres", db),
		timeout: cfg.AcquireTimeout,
	}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return core.NewError(core.KindDatabaseError, "ping", err)
	}
	return nil
}

// VersionsResult is what GetVersions returns: Known distinguishes "never
// seen this provider" from "seen but currently has no versions", which
// is what drives C4's decision to fetch upstream.
type VersionsResult struct {
	Known    bool
	Versions []string
}

// GetVersions distinguishes Unknown (no provider row at all) from Known
// (a provider row exists; Versions may still be empty).
func (s *Store) GetVersions(ctx context.Context, key core.ProviderKey) (VersionsResult, error) {
	var providerID int64
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM provider WHERE hostname = $1 AND namespace = $2 AND kind = $3`,
		key.Hostname, key.Namespace, key.Kind)
	if err := row.Scan(&providerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VersionsResult{Known: false}, nil
		}
		return VersionsResult{}, core.NewError(core.KindDatabaseError, "get_versions: lookup provider", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT version FROM provider_version WHERE provider_id = $1 ORDER BY version`, providerID)
	if err != nil {
		return VersionsResult{}, core.NewError(core.KindDatabaseError, "get_versions: list versions", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return VersionsResult{}, core.NewError(core.KindDatabaseError, "get_versions: scan version", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return VersionsResult{}, err
	}
	sortVersionsSemver(versions)
	return VersionsResult{Known: true, Versions: versions}, nil
}

// sortVersionsSemver orders version strings by semantic precedence
// rather than lexical order (so "1.9.0" sorts before "1.10.0"). Entries
// that fail to parse as semver come after all parsable ones, sorted
// lexically among themselves.
func sortVersionsSemver(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, erri := goversion.NewVersion(versions[i])
		vj, errj := goversion.NewVersion(versions[j])
		switch {
		case erri == nil && errj == nil:
			return vi.LessThan(vj)
		case erri == nil:
			return true
		case errj == nil:
			return false
		default:
			return versions[i] < versions[j]
		}
	})
}

// UpsertProviderAndVersions upserts the provider row (bumping
// last_refreshed) and bulk-inserts (version, os, arch) tuples with
// on-conflict-do-nothing, in a single transaction, returning the tuples
// that were newly inserted. Invariants 1 and 2 (spec.md §3) are enforced
// by the unique constraints backing this statement.
func (s *Store) UpsertProviderAndVersions(ctx context.Context, key core.ProviderKey, versions []core.UpstreamVersion) ([]core.VersionRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "upsert_provider_and_versions: begin", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var providerID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO provider (hostname, namespace, kind, last_refreshed)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (hostname, namespace, kind)
		DO UPDATE SET last_refreshed = excluded.last_refreshed
		RETURNING id`,
		key.Hostname, key.Namespace, key.Kind).Scan(&providerID)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "upsert_provider_and_versions: upsert provider", err)
	}

	var rows []goqu.Record
	for _, v := range versions {
		for _, p := range v.Platforms {
			rows = append(rows, goqu.Record{
				"provider_id": providerID,
				"version":     v.Version,
				"os":          p.OS,
				"arch":        p.Arch,
			})
		}
	}
	if len(rows) == 0 {
		return nil, tx.Commit()
	}

	insertSQL, args, err := s.goqu.Insert("provider_version").
		Rows(rows).
		OnConflict(goqu.DoNothing()).
		Returning("id", "provider_id", "version", "os", "arch").
		ToSQL()
	if err != nil {
		return nil, core.NewError(core.KindInternal, "upsert_provider_and_versions: build insert", err)
	}

	res, err := tx.QueryContext(ctx, insertSQL, args...)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "upsert_provider_and_versions: insert versions", err)
	}
	defer res.Close()

	var inserted []core.VersionRecord
	for res.Next() {
		var vr core.VersionRecord
		if err := res.Scan(&vr.ID, &vr.ProviderID, &vr.Version, &vr.Platform.OS, &vr.Platform.Arch); err != nil {
			return nil, core.NewError(core.KindDatabaseError, "upsert_provider_and_versions: scan", err)
		}
		inserted = append(inserted, vr)
	}
	if err := res.Err(); err != nil {
		return nil, core.NewError(core.KindDatabaseError, "upsert_provider_and_versions: iterate", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, core.NewError(core.KindDatabaseError, "upsert_provider_and_versions: commit", err)
	}
	return inserted, nil
}

// ResolveVersion joins a version row to its provider, returning nil if
// the version id does not exist.
func (s *Store) ResolveVersion(ctx context.Context, versionID int64) (*core.ArtifactDetails, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT p.hostname, p.namespace, p.kind, pv.version, pv.os, pv.arch, pv.artifact_id
		FROM provider_version pv
		JOIN provider p ON p.id = pv.provider_id
		WHERE pv.id = $1`, versionID)

	var d core.ArtifactDetails
	var artifactID sql.NullInt64
	if err := row.Scan(&d.Provider.Hostname, &d.Provider.Namespace, &d.Provider.Kind, &d.Version, &d.Platform.OS, &d.Platform.Arch, &artifactID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, core.NewError(core.KindDatabaseError, "resolve_version", err)
	}
	d.VersionID = versionID
	if artifactID.Valid {
		d.ArtifactID = &artifactID.Int64
	}
	return &d, nil
}

// AllocateArtifactID draws the next value from the artifact_ids
// sequence. Allocations are never reused (spec.md §3, invariant on
// artifact ids).
func (s *Store) AllocateArtifactID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('artifact_ids')`).Scan(&id); err != nil {
		return 0, core.NewError(core.KindDatabaseError, "allocate_artifact_id", err)
	}
	return id, nil
}

// BindArtifact sets a version's artifact id if (and only if) it is not
// already bound. Binding twice with the same id is a no-op; the
// operation never rebinds a version already bound to a different id.
func (s *Store) BindArtifact(ctx context.Context, versionID, artifactID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE provider_version
		SET artifact_id = $1, artifact_timestamp = now()
		WHERE id = $2 AND artifact_id IS NULL`,
		artifactID, versionID)
	if err != nil {
		return core.NewError(core.KindDatabaseError, "bind_artifact", err)
	}
	return nil
}

// ListDownloads returns every (os, arch) platform recorded for a given
// provider+version, each with its version row id.
func (s *Store) ListDownloads(ctx context.Context, key core.ProviderKey, version string) ([]core.VersionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pv.id, pv.provider_id, pv.version, pv.os, pv.arch, pv.artifact_id
		FROM provider_version pv
		JOIN provider p ON p.id = pv.provider_id
		WHERE p.hostname = $1 AND p.namespace = $2 AND p.kind = $3 AND pv.version = $4`,
		key.Hostname, key.Namespace, key.Kind, version)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "list_downloads", err)
	}
	defer rows.Close()

	var out []core.VersionRecord
	for rows.Next() {
		var vr core.VersionRecord
		var artifactID sql.NullInt64
		if err := rows.Scan(&vr.ID, &vr.ProviderID, &vr.Version, &vr.Platform.OS, &vr.Platform.Arch, &artifactID); err != nil {
			return nil, core.NewError(core.KindDatabaseError, "list_downloads: scan", err)
		}
		if artifactID.Valid {
			vr.ArtifactID = &artifactID.Int64
		}
		out = append(out, vr)
	}
	return out, rows.Err()
}

// ProviderSummary is a single row of the admin UI's provider listing.
type ProviderSummary struct {
	Hostname      string
	Namespace     string
	Kind          string
	LastRefreshed time.Time
}

// ListProviders returns every known provider, most recently refreshed
// first. Backs the read-only admin UI (SPEC_FULL.md §4.6); it is not
// part of the mirror protocol itself.
func (s *Store) ListProviders(ctx context.Context) ([]ProviderSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hostname, namespace, kind, last_refreshed FROM provider ORDER BY last_refreshed DESC`)
	if err != nil {
		return nil, core.NewError(core.KindDatabaseError, "list_providers", err)
	}
	defer rows.Close()

	var out []ProviderSummary
	for rows.Next() {
		var p ProviderSummary
		if err := rows.Scan(&p.Hostname, &p.Namespace, &p.Kind, &p.LastRefreshed); err != nil {
			return nil, core.NewError(core.KindDatabaseError, "list_providers: scan", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Credential store operations, backing pkg/credentials' durable flavour.

func (s *Store) GetCredential(ctx context.Context, hostname string) (found bool, token *string, err error) {
	var t sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT token FROM credentials WHERE hostname = $1`, hostname)
	if scanErr := row.Scan(&t); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, core.NewError(core.KindDatabaseError, "get credential", scanErr)
	}
	if t.Valid {
		val := t.String
		return true, &val, nil
	}
	return true, nil, nil
}

func (s *Store) StoreCredential(ctx context.Context, hostname, token string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (hostname, token)
		VALUES ($1, $2)
		ON CONFLICT (hostname) DO UPDATE SET token = excluded.token`,
		hostname, token)
	if err != nil {
		return core.NewError(core.KindDatabaseError, "store credential", err)
	}
	return nil
}

func (s *Store) ForgetCredential(ctx context.Context, hostname string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE hostname = $1`, hostname)
	if err != nil {
		return core.NewError(core.KindDatabaseError, "forget credential", err)
	}
	return nil
}
