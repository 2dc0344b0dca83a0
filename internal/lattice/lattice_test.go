package lattice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin_BottomIsIdentity(t *testing.T) {
	assert.True(t, Join(T(Bottom), T(Float)).Equal(T(Float)))
	assert.True(t, Join(T(Float), T(Bottom)).Equal(T(Float)))
}

func TestJoin_TopAbsorbs(t *testing.T) {
	assert.True(t, Join(T(Top), T(Float)).Equal(T(Top)))
	assert.True(t, Join(T(String), T(Top)).Equal(T(Top)))
}

func TestJoin_AgentLikeKinds(t *testing.T) {
	assert.True(t, Join(T(Turtle), T(Patch)).Equal(T(Agent)))
	assert.True(t, Join(T(Turtle), T(Turtle)).Equal(T(Turtle)))
}

func TestJoin_NumericLikeKinds(t *testing.T) {
	assert.True(t, Join(T(Float), T(Color)).Equal(T(Numeric)))
}

func TestJoin_Agentsets(t *testing.T) {
	got := Join(AgentsetOf(T(Turtle)), AgentsetOf(T(Patch)))
	assert.True(t, got.Equal(AgentsetOf(T(Agent))))
}

func TestJoin_Incomparable(t *testing.T) {
	assert.True(t, Join(T(String), T(Boolean)).Equal(T(Top)))
}

func TestJoinAll_EmptyYieldsUnit(t *testing.T) {
	assert.True(t, JoinAll(nil).Equal(T(Unit)))
}

func TestJoinAll_SingleVerbatim(t *testing.T) {
	assert.True(t, JoinAll([]Type{T(Float)}).Equal(T(Float)))
}
