package posting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPageRootVerifier_IsRoot(t *testing.T) {
	s := newFakeSurface()
	root := s.seed("a root post", "")
	reply := s.seed("a reply", root)
	nested := s.seed("a reply to the reply", reply)

	v := NewPageRootVerifier(s, s.profile, time.Second, zap.NewNop())

	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "root post", id: root, want: true},
		{name: "direct reply", id: reply, want: false},
		{name: "nested reply", id: nested, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.IsRoot(context.Background(), tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.True(t, s.allClosed())
}

func TestPageRootVerifier_Errors(t *testing.T) {
	t.Run("malformed id", func(t *testing.T) {
		s := newFakeSurface()
		v := NewPageRootVerifier(s, s.profile, time.Second, zap.NewNop())

		_, err := v.IsRoot(context.Background(), "abc")
		require.Error(t, err)
		assert.Empty(t, s.pages, "no page is opened for a malformed id")
	})

	t.Run("post not rendered", func(t *testing.T) {
		s := newFakeSurface()
		v := NewPageRootVerifier(s, s.profile, time.Second, zap.NewNop())

		_, err := v.IsRoot(context.Background(), "1790000000000000099")
		require.Error(t, err)
		assert.True(t, s.allClosed())
	})

	t.Run("browser unavailable", func(t *testing.T) {
		s := newFakeSurface()
		s.newPageErr = errors.New("browser gone")
		v := NewPageRootVerifier(s, s.profile, time.Second, zap.NewNop())

		_, err := v.IsRoot(context.Background(), "1790000000000000001")
		require.ErrorContains(t, err, "browser gone")
	})
}
