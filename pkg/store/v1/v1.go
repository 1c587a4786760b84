// Package v1 is the first entity storage representation: JSON encoded
// versions in rows keyed by collection scope followed by entity id.
package v1

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/surrealdb/datamigration/pkg/codec"
	"github.com/surrealdb/datamigration/pkg/columnstore"
	"github.com/surrealdb/datamigration/pkg/models"
	"github.com/surrealdb/datamigration/pkg/store"
)

const (
	// Table holds one row per entity.
	Table = "entity_log_v1"

	ImplementationVersion = 1
)

// New returns the v1 serialization over keyspace.
func New(keyspace columnstore.Keyspace, opts ...store.WideRowOption) *store.WideRow {
	return store.NewWideRow(keyspace, Layout{}, ImplementationVersion, opts...)
}

// row is the stored value of a version.
type row struct {
	Status string         `json:"status"`
	Fields map[string]any `json:"fields,omitempty"`
}

const (
	statusComplete = "complete"
	statusPartial  = "partial"
	statusDeleted  = "deleted"
)

// Layout keys rows by scope then id and encodes versions as JSON.
type Layout struct{}

var _ store.Layout = Layout{}

func (Layout) Table() string { return Table }

func (Layout) RowKey(scope models.CollectionScope, id models.ID) ([]byte, error) {
	s, err := codec.ScopeCodec{}.Encode(scope)
	if err != nil {
		return nil, err
	}
	i, err := codec.IDCodec{}.Encode(id)
	if err != nil {
		return nil, err
	}
	return codec.Join(s, i), nil
}

func (Layout) ParseRowKey(rowKey []byte) (store.EntityRef, error) {
	parts, err := codec.Split(rowKey)
	if err != nil {
		return store.EntityRef{}, err
	}
	if len(parts) != 2 {
		return store.EntityRef{}, codec.MalformedError.New("row key must have 2 components, got %d", len(parts))
	}
	scope, err := codec.ScopeCodec{}.Decode(parts[0])
	if err != nil {
		return store.EntityRef{}, err
	}
	id, err := codec.IDCodec{}.Decode(parts[1])
	if err != nil {
		return store.EntityRef{}, err
	}
	return store.EntityRef{Scope: scope, ID: id}, nil
}

func (Layout) EncodeValue(entity models.MvccEntity) ([]byte, error) {
	r := row{}
	switch entity.Status {
	case models.StatusComplete:
		r.Status = statusComplete
	case models.StatusPartial:
		r.Status = statusPartial
	case models.StatusDeleted:
		r.Status = statusDeleted
	default:
		return nil, codec.MalformedError.New("unsupported entity status %s", entity.Status)
	}
	if entity.Entity != nil && entity.Status != models.StatusDeleted {
		r.Fields = entity.Entity.Fields
	}
	return json.Marshal(r)
}

func (Layout) DecodeValue(id models.ID, version uuid.UUID, value []byte) (models.MvccEntity, error) {
	var r row
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return models.MvccEntity{}, err
	}

	entity := models.MvccEntity{ID: id, Version: version}
	switch r.Status {
	case statusComplete:
		entity.Status = models.StatusComplete
	case statusPartial:
		entity.Status = models.StatusPartial
	case statusDeleted:
		entity.Status = models.StatusDeleted
		return entity, nil
	default:
		return models.MvccEntity{}, codec.MalformedError.New("unknown entity status %q", r.Status)
	}
	fields, err := normalizeFields(r.Fields)
	if err != nil {
		return models.MvccEntity{}, err
	}
	entity.Entity = &models.Entity{ID: id, Fields: fields}
	return entity, nil
}

// normalizeFields replaces the JSON numbers of fields with the Go types the
// v2 serialization decodes the same values to: uint64 for non-negative
// integers, int64 for negative ones and float64 otherwise. Integers above
// 2^53 would lose precision as float64.
func normalizeFields(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return nil, nil
	}
	for k, v := range fields {
		n, err := normalizeValue(v)
		if err != nil {
			return nil, codec.MalformedError.Wrap(err, "field %q", k)
		}
		fields[k] = n
	}
	return fields, nil
}

func normalizeValue(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		return normalizeNumber(v)
	case map[string]any:
		return normalizeFields(v)
	case []any:
		for i, e := range v {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			v[i] = n
		}
		return v, nil
	default:
		return v, nil
	}
}

func normalizeNumber(n json.Number) (any, error) {
	s := string(n)
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u, nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	return strconv.ParseFloat(s, 64)
}
