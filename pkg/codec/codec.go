// Package codec encodes identifiers and versions into byte strings used as
// row keys and column names. All encodings are stateless and their byte
// order is meaningful: column stores sort on it.
package codec

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/joomcode/errorx"
	"github.com/surrealdb/datamigration/pkg/models"
)

var (
	ErrNamespace = errorx.NewNamespace("codec")

	// MalformedError is returned when decoding input that was not produced
	// by the matching encoder.
	MalformedError = ErrNamespace.NewType("malformed")
)

// Codec converts values to and from bytes.
type Codec[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// Join concatenates parts, each prefixed with its 2-byte length, into a
// composite key.
func Join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += 2 + len(p)
	}

	out := make([]byte, 0, size)
	for _, p := range parts {
		out = binary.BigEndian.AppendUint16(out, uint16(len(p)))
		out = append(out, p...)
	}
	return out
}

// Split reverses Join.
func Split(data []byte) ([][]byte, error) {
	var parts [][]byte
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, MalformedError.New("truncated composite length")
		}
		n := int(binary.BigEndian.Uint16(data))
		data = data[2:]
		if len(data) < n {
			return nil, MalformedError.New("composite component of %d bytes exceeds remaining %d", n, len(data))
		}
		parts = append(parts, data[:n])
		data = data[n:]
	}
	return parts, nil
}

// IDCodec encodes an ID as its 16 UUID bytes followed by its type.
type IDCodec struct{}

var _ Codec[models.ID] = IDCodec{}

func (IDCodec) Encode(id models.ID) ([]byte, error) {
	if id.Type == "" {
		return nil, errorx.IllegalArgument.New("id %s has no type", id.UUID)
	}
	out := make([]byte, 0, 16+len(id.Type))
	out = append(out, id.UUID[:]...)
	return append(out, id.Type...), nil
}

func (IDCodec) Decode(data []byte) (models.ID, error) {
	if len(data) <= 16 {
		return models.ID{}, MalformedError.New("id must contain a uuid and a type, got %d bytes", len(data))
	}
	u, err := uuid.FromBytes(data[:16])
	if err != nil {
		return models.ID{}, MalformedError.Wrap(err, "invalid id uuid")
	}
	return models.ID{UUID: u, Type: string(data[16:])}, nil
}

// VersionCodec encodes a time-based UUID as its 60-bit timestamp (8 bytes,
// big endian) followed by the UUID itself, so byte order equals time order.
type VersionCodec struct{}

var _ Codec[uuid.UUID] = VersionCodec{}

// VersionSize is the length of an encoded version.
const VersionSize = 8 + 16

func (VersionCodec) Encode(version uuid.UUID) ([]byte, error) {
	if version.Version() != 1 {
		return nil, errorx.IllegalArgument.New("version %s is not a time-based uuid", version)
	}
	out := make([]byte, 0, VersionSize)
	out = binary.BigEndian.AppendUint64(out, uint64(version.Time()))
	return append(out, version[:]...), nil
}

func (VersionCodec) Decode(data []byte) (uuid.UUID, error) {
	if len(data) != VersionSize {
		return uuid.Nil, MalformedError.New("version must be %d bytes, got %d", VersionSize, len(data))
	}
	u, err := uuid.FromBytes(data[8:])
	if err != nil {
		return uuid.Nil, MalformedError.Wrap(err, "invalid version uuid")
	}
	return u, nil
}

// ScopeCodec encodes a collection scope as a composite of application,
// owner and collection name.
type ScopeCodec struct{}

var _ Codec[models.CollectionScope] = ScopeCodec{}

func (ScopeCodec) Encode(scope models.CollectionScope) ([]byte, error) {
	app, err := IDCodec{}.Encode(scope.Application)
	if err != nil {
		return nil, errorx.Decorate(err, "application")
	}
	owner, err := IDCodec{}.Encode(scope.Owner)
	if err != nil {
		return nil, errorx.Decorate(err, "owner")
	}
	if scope.Name == "" {
		return nil, errorx.IllegalArgument.New("collection name must not be empty")
	}
	return Join(app, owner, []byte(scope.Name)), nil
}

func (ScopeCodec) Decode(data []byte) (models.CollectionScope, error) {
	parts, err := Split(data)
	if err != nil {
		return models.CollectionScope{}, err
	}
	if len(parts) != 3 {
		return models.CollectionScope{}, MalformedError.New("scope must have 3 components, got %d", len(parts))
	}
	app, err := IDCodec{}.Decode(parts[0])
	if err != nil {
		return models.CollectionScope{}, err
	}
	owner, err := IDCodec{}.Decode(parts[1])
	if err != nil {
		return models.CollectionScope{}, err
	}
	return models.CollectionScope{Application: app, Owner: owner, Name: string(parts[2])}, nil
}
