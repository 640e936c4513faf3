package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"

	accounts "github.com/veridian-labs/go-accounts"
)

// blobRow is one value in one logical store. A single table backs every
// store; the (store, key) pair is the primary key.
type blobRow struct {
	bun.BaseModel `bun:"table:blobs,alias:b"`

	Store     string    `bun:"store,pk"`
	Key       string    `bun:"key,pk"`
	Value     []byte    `bun:"value,notnull"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// Bun is a StoreProvider backed by a bun database, typically SQLite in
// deployments of this size.
type Bun struct {
	db *bun.DB
}

var _ accounts.StoreProvider = (*Bun)(nil)

// NewBun wraps an existing bun DB.
func NewBun(db *bun.DB) *Bun {
	return &Bun{db: db}
}

// Init creates the blobs table when missing.
func (p *Bun) Init(ctx context.Context) error {
	_, err := p.db.NewCreateTable().
		Model((*blobRow)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create blobs table")
	}
	return nil
}

// Open returns a view over the named store.
func (p *Bun) Open(name string) accounts.Store {
	return &bunStore{db: p.db, name: name}
}

type bunStore struct {
	db   *bun.DB
	name string
}

func (s *bunStore) Get(ctx context.Context, key string) ([]byte, error) {
	row := new(blobRow)
	err := s.db.NewSelect().
		Model(row).
		Where("b.store = ?", s.name).
		Where("b.key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound(s.name, key)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "blob read failed")
	}
	return row.Value, nil
}

func (s *bunStore) Set(ctx context.Context, key string, value []byte) error {
	row := &blobRow{
		Store:     s.name,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (store, key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "blob write failed")
	}
	return nil
}

func (s *bunStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().
		Model((*blobRow)(nil)).
		Where("b.store = ?", s.name).
		Where("b.key = ?", key).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "blob delete failed")
	}
	return nil
}

func (s *bunStore) List(ctx context.Context) ([]string, error) {
	var keys []string
	err := s.db.NewSelect().
		Model((*blobRow)(nil)).
		Column("key").
		Where("b.store = ?", s.name).
		Order("key ASC").
		Scan(ctx, &keys)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryOperation, "blob list failed")
	}
	return keys, nil
}
