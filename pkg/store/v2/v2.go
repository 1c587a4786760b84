// Package v2 is the second entity storage representation. Rows are keyed by
// entity id first so that the versions of one entity land on a single
// partition regardless of the collection it is read through, and values are
// CBOR encoded.
package v2

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/surrealdb/datamigration/pkg/codec"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/models"
	"github.com/surrealdb/datamigration/pkg/store"
)

const (
	// Table holds one row per entity and scope.
	Table = "entity_data_v2"

	ImplementationVersion = 2
)

// New returns the v2 serialization over keyspace.
func New(keyspace columnstore.Keyspace, opts ...store.WideRowOption) *store.WideRow {
	return store.NewWideRow(keyspace, Layout{}, ImplementationVersion, opts...)
}

type row struct {
	Status int            `cbor:"1,keyasint"`
	Fields map[string]any `cbor:"2,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CanonicalEncOptions().EncMode(); err != nil {
		panic(err)
	}
	// Nested maps decode to map[string]any like their JSON counterparts.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Layout keys rows by id then scope and encodes versions as CBOR.
type Layout struct{}

var _ store.Layout = Layout{}

func (Layout) Table() string { return Table }

func (Layout) RowKey(scope models.CollectionScope, id models.ID) ([]byte, error) {
	i, err := codec.IDCodec{}.Encode(id)
	if err != nil {
		return nil, err
	}
	s, err := codec.ScopeCodec{}.Encode(scope)
	if err != nil {
		return nil, err
	}
	return codec.Join(i, s), nil
}

func (Layout) ParseRowKey(rowKey []byte) (store.EntityRef, error) {
	parts, err := codec.Split(rowKey)
	if err != nil {
		return store.EntityRef{}, err
	}
	if len(parts) != 2 {
		return store.EntityRef{}, codec.MalformedError.New("row key must have 2 components, got %d", len(parts))
	}
	id, err := codec.IDCodec{}.Decode(parts[0])
	if err != nil {
		return store.EntityRef{}, err
	}
	scope, err := codec.ScopeCodec{}.Decode(parts[1])
	if err != nil {
		return store.EntityRef{}, err
	}
	return store.EntityRef{Scope: scope, ID: id}, nil
}

func (Layout) EncodeValue(entity models.MvccEntity) ([]byte, error) {
	switch entity.Status {
	case models.StatusComplete, models.StatusPartial, models.StatusDeleted:
	default:
		return nil, codec.MalformedError.New("unsupported entity status %s", entity.Status)
	}
	r := row{Status: int(entity.Status)}
	if entity.Entity != nil && entity.Status != models.StatusDeleted {
		r.Fields = entity.Entity.Fields
	}
	return encMode.Marshal(r)
}

func (Layout) DecodeValue(id models.ID, version uuid.UUID, value []byte) (models.MvccEntity, error) {
	var r row
	if err := decMode.Unmarshal(value, &r); err != nil {
		return models.MvccEntity{}, err
	}

	entity := models.MvccEntity{ID: id, Version: version, Status: models.Status(r.Status)}
	switch entity.Status {
	case models.StatusDeleted:
		return entity, nil
	case models.StatusComplete, models.StatusPartial:
		entity.Entity = &models.Entity{ID: id, Fields: r.Fields}
		return entity, nil
	default:
		return models.MvccEntity{}, codec.MalformedError.New("unknown entity status %d", r.Status)
	}
}
