package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeContains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		outer Range
		inner Range
		want  bool
	}{
		{"identical", Bounds(2, 8), Bounds(2, 8), true},
		{"strict subset", Bounds(2, 14), Bounds(5, 8), true},
		{"overlap left", Bounds(4, 10), Bounds(2, 8), false},
		{"overlap right", Bounds(2, 8), Bounds(4, 10), false},
		{"disjoint", Bounds(0, 4), Bounds(6, 10), false},
		{"whole file contains bounded", WholeFile(), Bounds(100, 200), true},
		{"whole file contains whole file", WholeFile(), WholeFile(), true},
		{"bounded never contains whole file", Bounds(0, 1000), WholeFile(), false},
		{"tail contains later bounded", WholeFileFrom(2), Bounds(5, 9), true},
		{"tail respects start", WholeFileFrom(5), Bounds(2, 9), false},
		{"tail contains later tail", WholeFileFrom(2), WholeFileFrom(5), true},
		{"zero length at same offset", Bounds(4, 4), Bounds(4, 4), true},
		{"zero length inside", Bounds(2, 8), Bounds(5, 5), true},
		{"zero length at end", Bounds(2, 8), Bounds(8, 8), true},
		{"zero length outside", Bounds(2, 8), Bounds(9, 9), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.outer.Contains(tt.inner))
		})
	}
}

func TestRangeIntersects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Range
		want bool
	}{
		{"overlapping", Bounds(2, 8), Bounds(6, 10), true},
		{"adjacent", Bounds(2, 8), Bounds(8, 14), false},
		{"disjoint", Bounds(0, 2), Bounds(8, 14), false},
		{"whole file and bounded", WholeFile(), Bounds(3, 4), true},
		{"tail before bounded end", WholeFileFrom(5), Bounds(2, 8), true},
		{"tail after bounded end", WholeFileFrom(8), Bounds(2, 8), false},
		{"empty never intersects", Bounds(4, 4), Bounds(2, 8), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Intersects(tt.b))
			assert.Equal(t, tt.want, tt.b.Intersects(tt.a))
		})
	}
}

func TestRangeMerge(t *testing.T) {
	t.Parallel()

	t.Run("overlapping", func(t *testing.T) {
		t.Parallel()
		merged, err := Bounds(2, 8).Merge(Bounds(6, 14))
		require.NoError(t, err)
		assert.Equal(t, Bounds(2, 14), merged)
	})

	t.Run("adjacent", func(t *testing.T) {
		t.Parallel()
		merged, err := Bounds(8, 14).Merge(Bounds(2, 8))
		require.NoError(t, err)
		assert.Equal(t, Bounds(2, 14), merged)
	})

	t.Run("contained", func(t *testing.T) {
		t.Parallel()
		merged, err := Bounds(2, 14).Merge(Bounds(6, 10))
		require.NoError(t, err)
		assert.Equal(t, Bounds(2, 14), merged)
	})

	t.Run("whole file wins", func(t *testing.T) {
		t.Parallel()
		merged, err := Bounds(2, 8).Merge(WholeFileFrom(4))
		require.NoError(t, err)
		assert.True(t, merged.IsWholeFile())
		assert.Equal(t, int64(2), merged.Start())
	})

	t.Run("disjoint fails", func(t *testing.T) {
		t.Parallel()
		_, err := Bounds(0, 2).Merge(Bounds(8, 14))
		require.ErrorIs(t, err, ErrRangeNotMergeable)
	})
}

func TestRangeSplit(t *testing.T) {
	t.Parallel()

	t.Run("middle", func(t *testing.T) {
		t.Parallel()
		prefix, suffix := Bounds(2, 14).Split(Bounds(6, 10))
		assert.Equal(t, Bounds(2, 6), prefix)
		assert.Equal(t, Bounds(10, 14), suffix)
	})

	t.Run("prefix only", func(t *testing.T) {
		t.Parallel()
		prefix, suffix := Bounds(2, 14).Split(Bounds(10, 14))
		assert.Equal(t, Bounds(2, 10), prefix)
		assert.True(t, suffix.IsEmpty())
	})

	t.Run("suffix only", func(t *testing.T) {
		t.Parallel()
		prefix, suffix := Bounds(2, 14).Split(Bounds(2, 6))
		assert.True(t, prefix.IsEmpty())
		assert.Equal(t, Bounds(6, 14), suffix)
	})

	t.Run("exact", func(t *testing.T) {
		t.Parallel()
		prefix, suffix := Bounds(2, 14).Split(Bounds(2, 14))
		assert.True(t, prefix.IsEmpty())
		assert.True(t, suffix.IsEmpty())
	})

	t.Run("whole file sub", func(t *testing.T) {
		t.Parallel()
		prefix, suffix := WholeFileFrom(2).Split(WholeFileFrom(6))
		assert.Equal(t, Bounds(2, 6), prefix)
		assert.True(t, suffix.IsEmpty())
	})
}

func TestRangeConstructors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Bounds(3, 9), Length(3, 6))
	assert.True(t, Bounds(5, 2).IsEmpty())
	assert.True(t, Length(5, -1).IsEmpty())
	assert.True(t, WholeFile().IsWholeFile())
	assert.Equal(t, int64(0), WholeFile().Start())
	assert.Equal(t, int64(-1), WholeFile().Len())
}
