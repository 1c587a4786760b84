package codec_test

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/datamigration/pkg/codec"
	"github.com/surrealdb/datamigration/pkg/models"
)

func TestJoinSplit(t *testing.T) {
	parts := [][]byte{[]byte("app"), {}, []byte("collection")}

	split, err := codec.Split(codec.Join(parts...))
	require.NoError(t, err)
	require.Len(t, split, 3)
	for i := range parts {
		assert.True(t, bytes.Equal(parts[i], split[i]))
	}

	_, err = codec.Split([]byte{0, 5, 'a'})
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, codec.MalformedError))
}

func TestIDCodec(t *testing.T) {
	id := models.NewID("user")

	encoded, err := codec.IDCodec{}.Encode(id)
	require.NoError(t, err)
	decoded, err := codec.IDCodec{}.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)

	_, err = codec.IDCodec{}.Encode(models.ID{UUID: uuid.New()})
	assert.Error(t, err, "ids without a type are rejected")

	_, err = codec.IDCodec{}.Decode(id.UUID[:])
	assert.Error(t, err)
}

func TestVersionCodec_PreservesTimeOrder(t *testing.T) {
	var encoded [][]byte
	var versions []uuid.UUID
	for i := 0; i < 50; i++ {
		v, err := models.NewVersion()
		require.NoError(t, err)
		versions = append(versions, v)

		e, err := codec.VersionCodec{}.Encode(v)
		require.NoError(t, err)
		require.Len(t, e, codec.VersionSize)
		encoded = append(encoded, e)
	}

	for i := 1; i < len(encoded); i++ {
		assert.True(t, bytes.Compare(encoded[i-1], encoded[i]) < 0, "version %d must sort after %d", i, i-1)
	}

	decoded, err := codec.VersionCodec{}.Decode(encoded[7])
	require.NoError(t, err)
	assert.Equal(t, versions[7], decoded)
}

func TestVersionCodec_RejectsRandomUUIDs(t *testing.T) {
	_, err := codec.VersionCodec{}.Encode(uuid.New())
	assert.Error(t, err)

	_, err = codec.VersionCodec{}.Decode([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestScopeCodec(t *testing.T) {
	scope := models.CollectionScope{
		Application: models.NewID("application"),
		Owner:       models.NewID("organization"),
		Name:        "users",
	}

	encoded, err := codec.ScopeCodec{}.Encode(scope)
	require.NoError(t, err)
	decoded, err := codec.ScopeCodec{}.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, scope, decoded)

	scope.Name = ""
	_, err = codec.ScopeCodec{}.Encode(scope)
	assert.Error(t, err)
}
