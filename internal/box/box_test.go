package box

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackFloat_RoundTrip(t *testing.T) {
	for _, v := range []float64{0, 1.5, -3.25, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(1), math.Inf(-1)} {
		b := PackFloat(v)
		got, ok := b.Float()
		require.True(t, ok, "%v must unpack as a float", v)
		assert.Equal(t, v, got)
	}
}

func TestPackFloat_NaNIsCanonicalized(t *testing.T) {
	b := PackFloat(math.NaN())
	require.Equal(t, TagFloat, b.Kind(), "a real NaN must never look like a boxed value")
	got, ok := b.Float()
	require.True(t, ok)
	assert.True(t, math.IsNaN(got))
}

func TestPackInt_RoundTripAndSignExtension(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1 << 40, -(1 << 40), (1 << 47) - 1, -(1 << 47)} {
		b := PackInt(v)
		require.Equal(t, TagInt, b.Kind())
		got, ok := b.Int()
		require.True(t, ok)
		assert.Equal(t, v, got, "48-bit payload must sign-extend")
	}
}

func TestPackBool_CanonicalPayloads(t *testing.T) {
	f := PackBool(false)
	tr := PackBool(true)
	require.Equal(t, TagBool, f.Kind())
	require.Equal(t, TagBool, tr.Kind())

	// false/true have canonical payloads 0/1.
	assert.Equal(t, uint64(0), uint64(f)&maskPayload)
	assert.Equal(t, uint64(1), uint64(tr)&maskPayload)

	got, ok := tr.Bool()
	require.True(t, ok)
	assert.True(t, got)
}

func TestPackAgentIDs_RoundTrip(t *testing.T) {
	tb := PackTurtle(42)
	id, ok := tb.TurtleID()
	require.True(t, ok)
	assert.Equal(t, uint32(42), id)
	_, ok = tb.PatchID()
	assert.False(t, ok, "a turtle id must not unpack as a patch id")

	pb := PackPatch(7)
	pid, ok := pb.PatchID()
	require.True(t, ok)
	assert.Equal(t, uint32(7), pid)

	lb := PackLink(9)
	lid, ok := lb.LinkID()
	require.True(t, ok)
	assert.Equal(t, uint32(9), lid)
}

func TestPackPointer_RoundTrip(t *testing.T) {
	b := PackPointer(0x0000123456789ABC)
	p, ok := b.Pointer()
	require.True(t, ok)
	assert.Equal(t, uint64(0x0000123456789ABC), p)
}

func TestNobody_IdentityAcrossTags(t *testing.T) {
	assert.True(t, Nobody().IsNobody())
	assert.True(t, PackTurtle(NobodyPatchID).IsNobody())
	assert.True(t, PackLink(NobodyPatchID).IsNobody())
	assert.False(t, PackTurtle(3).IsNobody())

	// Differently-tagged nobody identities compare equal.
	assert.True(t, Equal(Nobody(), PackTurtle(NobodyPatchID)))
}

func TestArith_FloatsAndInts(t *testing.T) {
	sum, err := Add(PackFloat(1.5), PackFloat(2.5))
	require.NoError(t, err)
	f, _ := sum.Float()
	assert.Equal(t, 4.0, f)

	isum, err := Add(PackInt(40), PackInt(2))
	require.NoError(t, err)
	i, _ := isum.Int()
	assert.Equal(t, int64(42), i)
}

func TestDiv_PromotesIntsToFloat(t *testing.T) {
	q, err := Div(PackInt(7), PackInt(2))
	require.NoError(t, err)
	f, ok := q.Float()
	require.True(t, ok, "division always produces a float")
	assert.Equal(t, 3.5, f)
}

func TestArith_MismatchedKindsFail(t *testing.T) {
	_, err := Add(PackFloat(1), PackBool(true))
	require.Error(t, err)
	assert.Equal(t, "add on float and bool not supported", err.Error())

	_, err = Less(PackTurtle(1), PackFloat(2))
	require.Error(t, err)
	var opErr *UnsupportedOpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, TagTurtle, opErr.Lhs)
}

func TestLess_Numeric(t *testing.T) {
	lt, err := Less(PackFloat(1), PackFloat(2))
	require.NoError(t, err)
	assert.True(t, lt)

	lt, err = Less(PackInt(5), PackInt(3))
	require.NoError(t, err)
	assert.False(t, lt)
}

func TestEqual_DifferentKindsUnequal(t *testing.T) {
	assert.False(t, Equal(PackInt(1), PackFloat(1)))
	assert.True(t, Equal(PackInt(1), PackInt(1)))
}
