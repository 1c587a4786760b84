package store

import (
	"bytes"
	"context"

	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/models"
)

// EntityIterator pages through the versions of one entity. The first page
// starts at the requested version inclusively; every following page starts
// at the last column of the previous one, which is fetched again and
// skipped.
//
//	for it.Next(ctx) {
//		use(it.Entity())
//	}
//	if err := it.Err(); err != nil { ... }
type EntityIterator struct {
	keyspace  columnstore.Keyspace
	table     string
	rowKey    []byte
	reversed  bool
	fetchSize int
	decode    func(columnstore.Column) (models.MvccEntity, error)

	cursor  []byte
	skip    []byte
	page    []models.MvccEntity
	pos     int
	done    bool
	err     error
	current models.MvccEntity
}

// Next advances to the next version, fetching a page when needed.
func (it *EntityIterator) Next(ctx context.Context) bool {
	if it.pos >= len(it.page) {
		if it.done || it.err != nil {
			return false
		}
		if err := it.fetch(ctx); err != nil {
			it.err = err
			return false
		}
		if len(it.page) == 0 {
			return false
		}
	}
	it.current = it.page[it.pos]
	it.pos++
	return true
}

// Entity returns the version Next moved to.
func (it *EntityIterator) Entity() models.MvccEntity {
	return it.current
}

func (it *EntityIterator) Err() error {
	return it.err
}

func (it *EntityIterator) fetch(ctx context.Context) error {
	limit := it.fetchSize
	if it.skip != nil {
		limit++
	}

	query := columnstore.SliceQuery{
		Table:    it.table,
		RowKey:   it.rowKey,
		Reversed: it.reversed,
		Limit:    limit,
	}
	if it.reversed {
		query.To = it.cursor
	} else {
		query.From = it.cursor
	}

	columns, err := it.keyspace.Slice(ctx, query)
	if err != nil {
		return err
	}
	if len(columns) < limit {
		it.done = true
	}
	if len(columns) > 0 {
		it.cursor = columns[len(columns)-1].Name
	}
	if it.skip != nil && len(columns) > 0 && bytes.Equal(columns[0].Name, it.skip) {
		columns = columns[1:]
	}
	it.skip = it.cursor

	it.page = it.page[:0]
	it.pos = 0
	for _, c := range columns {
		entity, err := it.decode(c)
		if err != nil {
			return err
		}
		it.page = append(it.page, entity)
	}
	if len(columns) == 0 {
		it.done = true
	}
	return nil
}
