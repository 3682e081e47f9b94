package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMissingReturnsNil(t *testing.T) {
	s := New()
	assert.Nil(t, s.Get("missing"))
}

func TestSetThenGetRoundTrips(t *testing.T) {
	s := New()
	s.Set("k", []byte("v1"))
	assert.Equal(t, "v1", string(s.Get("k")))
}

func TestSetOverwrites(t *testing.T) {
	s := New()
	s.Set("k", []byte("v1"))
	s.Set("k", []byte("v2"))
	assert.Equal(t, "v2", string(s.Get("k")))
	assert.Equal(t, 1, s.Len())
}

func TestMultipleKeysTracked(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want int
	}{
		{name: "empty", keys: nil, want: 0},
		{name: "single", keys: []string{"a"}, want: 1},
		{name: "distinct", keys: []string{"a", "b", "c"}, want: 3},
		{name: "duplicate collapses", keys: []string{"a", "a"}, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			for _, k := range tt.keys {
				s.Set(k, []byte("v"))
			}
			assert.Equal(t, tt.want, s.Len())
		})
	}
}
