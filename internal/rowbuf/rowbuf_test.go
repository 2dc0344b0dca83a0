package rowbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldforge/turtlec/internal/mtype"
)

func bitfieldSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]FieldDecl{
		{Name: "chemical", Type: mtype.ConcreteF64},
		{Name: "fertility", Type: mtype.ConcreteF64},
	}, true)
	require.NoError(t, err)
	return s
}

func TestSchema_AlwaysPresentRejectsNonZeroable(t *testing.T) {
	nonZeroable := mtype.Concrete{Name: "handle", Layout: []mtype.LayoutSlot{{Offset: 0, Type: mtype.I64}}, IsZeroable: false}
	_, err := NewSchema([]FieldDecl{{Name: "h", Type: nonZeroable}}, false)
	assert.Error(t, err)
}

func TestInsertThenTake_RoundTrips(t *testing.T) {
	schema := bitfieldSchema(t)
	buf, err := New(schema, 4)
	require.NoError(t, err)

	for row := uint32(0); row < 4; row++ {
		for field, want := range []float64{1.5, 2.5} {
			require.NoError(t, buf.InsertF64(row, field, want+float64(row)))
		}
	}

	for row := uint32(0); row < 4; row++ {
		for field, base := range []float64{1.5, 2.5} {
			present, err := buf.HasField(row, field)
			require.NoError(t, err)
			assert.True(t, present)

			got, err := buf.TakeF64(row, field)
			require.NoError(t, err)
			assert.Equal(t, base+float64(row), got)

			present, err = buf.HasField(row, field)
			require.NoError(t, err)
			assert.False(t, present)
		}
	}
}

func TestEnsureCapacity_PreservesExistingRows(t *testing.T) {
	schema := bitfieldSchema(t)
	buf, err := New(schema, 2)
	require.NoError(t, err)

	require.NoError(t, buf.InsertF64(0, 0, 42))
	require.NoError(t, buf.InsertF64(1, 1, 7))

	require.NoError(t, buf.EnsureCapacity(5))
	assert.Equal(t, uint32(5), buf.NumRows())

	got, err := buf.TakeF64(0, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got)

	got, err = buf.TakeF64(1, 1)
	require.NoError(t, err)
	assert.Equal(t, float64(7), got)
}

func TestTakeArrayF64_RequiresSingleFieldAlwaysPresent(t *testing.T) {
	single, err := NewSchema([]FieldDecl{{Name: "chemical", Type: mtype.ConcreteF64}}, false)
	require.NoError(t, err)
	buf, err := New(single, 3)
	require.NoError(t, err)

	require.NoError(t, buf.InsertZeroable(0, 0))
	row, err := buf.Row(1)
	require.NoError(t, err)
	_ = row
	arr, err := buf.TakeArrayF64()
	require.NoError(t, err)
	assert.Len(t, arr, 3)

	// the buffer itself stays addressable at the same row count, now
	// reading zero, rather than collapsing to a zero-length buffer.
	assert.Equal(t, uint32(3), buf.NumRows())
	for i := uint32(0); i < buf.NumRows(); i++ {
		got, present, err := buf.GetF64(i, 0)
		require.NoError(t, err)
		assert.True(t, present)
		assert.Zero(t, got)
	}

	// a bitfield schema must be rejected even if single-field.
	bf := bitfieldSchema(t)
	buf2, err := New(bf, 1)
	require.NoError(t, err)
	_, err = buf2.TakeArrayF64()
	assert.Error(t, err)
}

func TestClear_DropsAllFieldsInBitfieldMode(t *testing.T) {
	var dropped int
	dropCounter := mtype.Concrete{
		Name:       "counted",
		Layout:     []mtype.LayoutSlot{{Offset: 0, Type: mtype.F64}},
		IsZeroable: true,
		Drop:       func([]byte) { dropped++ },
	}
	schema, err := NewSchema([]FieldDecl{{Name: "x", Type: dropCounter}}, true)
	require.NoError(t, err)
	buf, err := New(schema, 2)
	require.NoError(t, err)

	require.NoError(t, buf.InsertF64(0, 0, 1))
	require.NoError(t, buf.InsertF64(1, 0, 2))

	require.NoError(t, buf.Clear())
	assert.Equal(t, 2, dropped)

	present, err := buf.HasField(0, 0)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestClear_RejectsAlwaysPresentSchema(t *testing.T) {
	single, err := NewSchema([]FieldDecl{{Name: "x", Type: mtype.ConcreteF64}}, false)
	require.NoError(t, err)
	buf, err := New(single, 1)
	require.NoError(t, err)
	assert.Error(t, buf.Clear())
}
