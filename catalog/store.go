package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"panshare/internal"
)

// Store is the SQL-backed catalog of hosted resources and the session
// cookies used to reach each provider
type Store struct {
	db  *bun.DB
	now func() time.Time
}

// ListOptions filters and pages List
type ListOptions struct {
	Search      string
	CloudName   string
	NeedsReview bool
	// Stale keeps rows never replaced or awaiting review
	Stale  bool
	Limit  int
	Offset int
}

// Open connects to the database named by driver ("sqlite3" or "postgres")
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var sqlDB *sql.DB
	var db *bun.DB
	var err error

	switch driver {
	case "sqlite3":
		sqlDB, err = sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("catalog: open sqlite: %w", err)
		}
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
		db = bun.NewDB(sqlDB, sqlitedialect.New())
	case "postgres":
		sqlDB, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("catalog: open postgres: %w", err)
		}
		db = bun.NewDB(sqlDB, pgdialect.New())
	default:
		return nil, fmt.Errorf("catalog: unsupported driver %q", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: ping %s: %w", driver, err)
	}
	return NewStore(db), nil
}

// NewStore wraps an open bun database
func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the catalog tables when they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, model := range []interface{}{(*resourceRecord)(nil), (*credentialRecord)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("catalog: migrate: %w", err)
		}
	}
	if err := s.addPendingFileID(ctx); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	_, err := s.db.NewCreateIndex().
		Model((*resourceRecord)(nil)).
		Index("idx_resources_share_link").
		Column("share_link").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// addPendingFileID upgrades resources tables created before the column existed
func (s *Store) addPendingFileID(ctx context.Context) error {
	q := s.db.NewAddColumn().
		Model((*resourceRecord)(nil)).
		ColumnExpr("pending_file_id VARCHAR")
	if s.db.Dialect().Name() == dialect.PG {
		q = q.IfNotExists()
	}
	_, err := q.Exec(ctx)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
		return nil
	}
	return err
}

// Insert stores rec and returns its id
func (s *Store) Insert(ctx context.Context, rec *internal.CatalogRecord) (int64, error) {
	if strings.TrimSpace(rec.ShareLink) == "" {
		return 0, fmt.Errorf("catalog: share link is required")
	}
	row := newResourceRecord(rec, s.now())
	if _, err := s.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("catalog: insert %q: %w", rec.Name, err)
	}
	return row.ID, nil
}

// UpdateShareLink points a row at a freshly created share and marks it
// replaced. An empty fileID keeps the stored one. Any pending copy is
// forgotten; the caller owns its removal.
func (s *Store) UpdateShareLink(ctx context.Context, id int64, shareLink, fileID string) (bool, error) {
	q := s.db.NewUpdate().
		Model((*resourceRecord)(nil)).
		Set("share_link = ?", shareLink).
		Set("is_replaced = ?", true).
		Set("needs_review = ?", false).
		Set("review_note = ?", "").
		Set("pending_file_id = ?", "").
		Set("updated_at = ?", s.now()).
		Where("id = ?", id)
	if fileID != "" {
		q = q.Set("file_id = ?", fileID)
	}
	return affected(q.Exec(ctx))
}

// FlagForReview marks a row for operator attention. file_id keeps naming the
// object behind share_link; a copy that is not reachable through the link is
// recorded as pending_file_id instead.
func (s *Store) FlagForReview(ctx context.Context, id int64, pendingFileID, note string) (bool, error) {
	q := s.db.NewUpdate().
		Model((*resourceRecord)(nil)).
		Set("needs_review = ?", true).
		Set("review_note = ?", note).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id)
	if pendingFileID != "" {
		q = q.Set("pending_file_id = ?", pendingFileID)
	}
	return affected(q.Exec(ctx))
}

// DeleteByShareLink removes every row carrying shareLink
func (s *Store) DeleteByShareLink(ctx context.Context, shareLink string) (int, error) {
	res, err := s.db.NewDelete().
		Model((*resourceRecord)(nil)).
		Where("share_link = ?", shareLink).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("catalog: delete %q: %w", shareLink, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// FindByShareLink returns the newest row carrying shareLink
func (s *Store) FindByShareLink(ctx context.Context, shareLink string) (*internal.CatalogRecord, bool, error) {
	row := new(resourceRecord)
	err := s.db.NewSelect().
		Model(row).
		Where("share_link = ?", shareLink).
		OrderExpr("id DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog: lookup %q: %w", shareLink, err)
	}
	return row.toDomain(), true, nil
}

// Get returns the row with id
func (s *Store) Get(ctx context.Context, id int64) (*internal.CatalogRecord, error) {
	row := new(resourceRecord)
	err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: resource %d: %w", id, internal.ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %d: %w", id, err)
	}
	return row.toDomain(), nil
}

// List returns rows newest first together with the total matching count
func (s *Store) List(ctx context.Context, opts ListOptions) ([]*internal.CatalogRecord, int, error) {
	var rows []resourceRecord
	q := s.db.NewSelect().Model(&rows).OrderExpr("created_at DESC, id DESC")
	if opts.Search != "" {
		q = q.Where("name LIKE ?", "%"+opts.Search+"%")
	}
	if opts.CloudName != "" {
		q = q.Where("cloud_name = ?", opts.CloudName)
	}
	if opts.NeedsReview {
		q = q.Where("needs_review = ?", true)
	}
	if opts.Stale {
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("is_replaced = ?", false).WhereOr("needs_review = ?", true)
		})
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit).Offset(opts.Offset)
	}

	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("catalog: list: %w", err)
	}

	out := make([]*internal.CatalogRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, total, nil
}

// GetCredential returns the cookie stored for provider
func (s *Store) GetCredential(ctx context.Context, provider string) (string, bool, error) {
	row := new(credentialRecord)
	err := s.db.NewSelect().Model(row).Where("cloud_name = ?", provider).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("catalog: get credential %q: %w", provider, err)
	}
	return row.Cookie, true, nil
}

// SaveCredential stores or replaces the cookie for provider
func (s *Store) SaveCredential(ctx context.Context, provider, cookie string) error {
	now := s.now()
	row := &credentialRecord{CloudName: provider, Cookie: cookie, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (cloud_name) DO UPDATE").
		Set("cookie = EXCLUDED.cookie").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("catalog: save credential %q: %w", provider, err)
	}
	return nil
}

// DeleteCredential removes the cookie for provider and reports whether one existed
func (s *Store) DeleteCredential(ctx context.Context, provider string) (bool, error) {
	return affected(s.db.NewDelete().
		Model((*credentialRecord)(nil)).
		Where("cloud_name = ?", provider).
		Exec(ctx))
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, fmt.Errorf("catalog: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("catalog: %w", err)
	}
	return n > 0, nil
}
