package columnstore

import "context"

// MutationKind identifies what a Mutation does.
type MutationKind int

const (
	PutColumn MutationKind = iota
	DeleteColumn
	DeleteRow
)

func (k MutationKind) String() string {
	switch k {
	case PutColumn:
		return "put"
	case DeleteColumn:
		return "delete_column"
	case DeleteRow:
		return "delete_row"
	default:
		return "unknown"
	}
}

// Mutation is a single change to a row.
type Mutation struct {
	Kind   MutationKind
	Table  string
	RowKey []byte
	Column []byte
	Value  []byte
}

// Executor applies batches. Every Keyspace is an Executor.
type Executor interface {
	Execute(ctx context.Context, batch *Batch) error
}

// Batch collects mutations to be applied atomically. It is not safe for
// concurrent use.
type Batch struct {
	executor  Executor
	mutations []Mutation
}

// NewBatch returns an empty batch executed by executor.
func NewBatch(executor Executor) *Batch {
	return &Batch{executor: executor}
}

// Put writes value into column of the row.
func (b *Batch) Put(table string, rowKey, column, value []byte) *Batch {
	b.mutations = append(b.mutations, Mutation{
		Kind:   PutColumn,
		Table:  table,
		RowKey: rowKey,
		Column: column,
		Value:  value,
	})
	return b
}

// DeleteColumn removes a single column of the row.
func (b *Batch) DeleteColumn(table string, rowKey, column []byte) *Batch {
	b.mutations = append(b.mutations, Mutation{
		Kind:   DeleteColumn,
		Table:  table,
		RowKey: rowKey,
		Column: column,
	})
	return b
}

// DeleteRow removes the whole row.
func (b *Batch) DeleteRow(table string, rowKey []byte) *Batch {
	b.mutations = append(b.mutations, Mutation{
		Kind:   DeleteRow,
		Table:  table,
		RowKey: rowKey,
	})
	return b
}

// MergeShallow appends the mutations of other to b. Keys and values are
// shared, not copied. Merging nil is a no-op.
func (b *Batch) MergeShallow(other *Batch) *Batch {
	if other != nil {
		b.mutations = append(b.mutations, other.mutations...)
	}
	return b
}

// Mutations returns the collected mutations in insertion order.
func (b *Batch) Mutations() []Mutation {
	return b.mutations
}

// Len returns the number of collected mutations.
func (b *Batch) Len() int {
	return len(b.mutations)
}

// Execute applies the batch through the keyspace that prepared it. An
// empty batch succeeds without touching the keyspace.
func (b *Batch) Execute(ctx context.Context) error {
	if len(b.mutations) == 0 {
		return nil
	}
	return b.executor.Execute(ctx, b)
}
