package secure_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/c19x/tracer/internal/secure"
)

func testKey() [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestPutAndGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.db")
	s, err := secure.Open(path, testKey())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutSharedSecret([]byte("top-secret-bytes")))
	require.NoError(t, s.PutSerialNumber([]byte("SN-0001")))

	got, err := s.SharedSecret()
	require.NoError(t, err)
	require.Equal(t, []byte("top-secret-bytes"), got)

	serial, err := s.SerialNumber()
	require.NoError(t, err)
	require.Equal(t, []byte("SN-0001"), serial)
}

func TestGetMissingKeyErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.db")
	s, err := secure.Open(path, testKey())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SharedSecret()
	require.ErrorIs(t, err, secure.ErrNotFound)
}

func TestWrongKeyFailsToDecrypt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secure.db")
	s, err := secure.Open(path, testKey())
	require.NoError(t, err)
	require.NoError(t, s.PutSharedSecret([]byte("top-secret-bytes")))
	require.NoError(t, s.Close())

	var wrong [32]byte
	wrong[0] = 0xFF
	reopened, err := secure.Open(path, wrong)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.SharedSecret()
	require.Error(t, err)
}
