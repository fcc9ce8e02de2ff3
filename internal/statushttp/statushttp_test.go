package statushttp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRefusesNonLoopbackAddressOnListen(t *testing.T) {
	s := New("0.0.0.0:0", &Store{})
	err := s.ListenAndServe()
	require.Error(t, err)
}

func TestStoreReportsUnsetUntilFirstSnapshot(t *testing.T) {
	store := &Store{}
	_, ok := store.Latest()
	require.False(t, ok)
}
