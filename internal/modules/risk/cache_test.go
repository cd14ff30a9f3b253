package risk

import (
	"testing"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_HitEqualsRecomputation(t *testing.T) {
	cached := newTestEngine(t)
	cached.SetCache(NewCache(8))
	plain := newTestEngine(t)

	s := randomSeries(11, 120, 0.0004, 0.012)

	first, err := cached.Compute(s, WithRiskFreeRate(0.01))
	require.NoError(t, err)
	second, err := cached.Compute(s, WithRiskFreeRate(0.01))
	require.NoError(t, err)
	fresh, err := plain.Compute(s, WithRiskFreeRate(0.01))
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, fresh, second)
	assert.Equal(t, CacheStats{Size: 1, Hits: 1, Misses: 1}, cached.cache.Stats())
}

func TestCache_KeyCoversOptions(t *testing.T) {
	e := newTestEngine(t)
	e.SetCache(NewCache(8))
	s := randomSeries(12, 60, 0, 0.01)

	a, err := e.Compute(s, WithRiskFreeRate(0.01))
	require.NoError(t, err)
	b, err := e.Compute(s, WithRiskFreeRate(0.03))
	require.NoError(t, err)
	c, err := e.Compute(s, WithRiskFreeRate(0.01), WithBeta(1.2))
	require.NoError(t, err)

	assert.NotEqual(t, a.SharpeRatio, b.SharpeRatio)
	assert.NotSame(t, a, c)
	assert.Equal(t, 3, e.cache.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	a, b, d := &MeasureSet{Observations: 1}, &MeasureSet{Observations: 2}, &MeasureSet{Observations: 3}

	c.Put("a", a)
	c.Put("b", b)
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Put("d", d)

	_, ok = c.Get("b")
	assert.False(t, ok)
	got, ok := c.Get("a")
	assert.True(t, ok)
	assert.Same(t, a, got)
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestNewCache_DisabledForNonPositiveCapacity(t *testing.T) {
	assert.Nil(t, NewCache(0))

	e := newTestEngine(t)
	e.SetCache(NewCache(0))
	_, err := e.Compute(domain.NewDailySeries("p", start, []float64{0.01, 0.02}))
	assert.NoError(t, err)
}
