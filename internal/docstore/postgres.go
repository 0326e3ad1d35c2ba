package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const changeChannel = "docstore_changes"

// PostgresStore persists documents in a single JSONB table and fans out
// change notifications over LISTEN/NOTIFY.
type PostgresStore struct {
	db     *sqlx.DB
	dsn    string
	logger *zap.Logger
}

// NewPostgresStore connects to Postgres and verifies the connection.
func NewPostgresStore(dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresStore{db: db, dsn: dsn, logger: logger}, nil
}

// DB exposes the underlying connection for migrations.
func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type documentRow struct {
	Path       string    `db:"path"`
	Collection string    `db:"collection"`
	Data       []byte    `db:"data"`
	ETag       string    `db:"etag"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r *documentRow) toDocument() (*Document, error) {
	data := make(map[string]any)
	if err := json.Unmarshal(r.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", r.Path, err)
	}
	return &Document{
		Path:      r.Path,
		Data:      data,
		ETag:      r.ETag,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, path string) (*Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM documents WHERE path = $1`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return row.toDocument()
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, collection string, opts ListOptions) ([]*Document, error) {
	query := `SELECT * FROM documents WHERE collection = $1`
	args := []any{collection}

	for field, value := range opts.Filters {
		args = append(args, field, fmt.Sprintf("%v", value))
		query += fmt.Sprintf(" AND data->>$%d = $%d", len(args)-1, len(args))
	}
	if opts.OrderBy != "" {
		args = append(args, opts.OrderBy)
		query += fmt.Sprintf(" ORDER BY data->>$%d", len(args))
		if opts.Descending {
			query += " DESC"
		}
	} else {
		query += " ORDER BY path"
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make([]*Document, 0, len(rows))
	for i := range rows {
		doc, err := rows[i].toDocument()
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, nil
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, path string, data map[string]any) (*Document, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", path, err)
	}

	row := documentRow{
		Path:       path,
		Collection: Collection(path),
		Data:       payload,
		ETag:       uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO documents (path, collection, data, etag, created_at, updated_at)
		VALUES (:path, :collection, :data, :etag, :created_at, :updated_at)`, &row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.notify(ctx, Change{Kind: "created", Path: path, At: row.CreatedAt})
	return row.toDocument()
}

// Update implements Store.
func (s *PostgresStore) Update(ctx context.Context, path string, partial map[string]any) (*Document, error) {
	return s.update(ctx, path, "", partial)
}

// UpdateIf implements Store.
func (s *PostgresStore) UpdateIf(ctx context.Context, path string, etag string, partial map[string]any) (*Document, error) {
	return s.update(ctx, path, etag, partial)
}

func (s *PostgresStore) update(ctx context.Context, path, etag string, partial map[string]any) (*Document, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var row documentRow
	err = tx.GetContext(ctx, &row, `SELECT * FROM documents WHERE path = $1 FOR UPDATE`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if etag != "" && row.ETag != etag {
		return nil, ErrConflict
	}

	data := make(map[string]any)
	if err := json.Unmarshal(row.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
	}
	for k, v := range partial {
		if v == nil {
			delete(data, k)
			continue
		}
		data[k] = v
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document %s: %w", path, err)
	}

	row.Data = payload
	row.ETag = uuid.NewString()
	row.UpdatedAt = time.Now().UTC()
	_, err = tx.NamedExecContext(ctx, `
		UPDATE documents SET data = :data, etag = :etag, updated_at = :updated_at
		WHERE path = :path`, &row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	s.notify(ctx, Change{Kind: "updated", Path: path, At: row.UpdatedAt})
	return row.toDocument()
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notify(ctx, Change{Kind: "deleted", Path: path, At: time.Now().UTC()})
	}
	return nil
}

// Subscribe implements Store using a dedicated LISTEN connection.
func (s *PostgresStore) Subscribe(ctx context.Context, collection string, handler ChangeHandler) (func(), error) {
	listener := pq.NewListener(s.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.Warn("Docstore listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(changeChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	done := make(chan struct{})
	cancel := func() {
		select {
		case <-done:
		default:
			close(done)
		}
	}

	go func() {
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case n := <-listener.Notify:
				if n == nil {
					continue
				}
				var change Change
				if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
					s.logger.Warn("Failed to decode change notification", zap.Error(err))
					continue
				}
				if Collection(change.Path) == collection || strings.HasPrefix(change.Path, collection+"/") {
					handler(change)
				}
			}
		}
	}()
	return cancel, nil
}

func (s *PostgresStore) notify(ctx context.Context, change Change) {
	payload, err := json.Marshal(change)
	if err != nil {
		return
	}
	if _, err := s.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, changeChannel, string(payload)); err != nil {
		s.logger.Warn("Failed to publish change notification",
			zap.String("path", change.Path),
			zap.Error(err))
	}
}
