package secrets

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestEncryptRoundTrip(t *testing.T) {
	k, err := NewKey()
	require.NoError(t, err)
	key, err := ParseKey(k)
	require.NoError(t, err)

	enc, err := Encrypt(key, "whsec_123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "enc:"))

	plain, err := Decrypt(key, enc)
	require.NoError(t, err)
	assert.Equal(t, "whsec_123", plain)

	other, _ := NewKey()
	otherKey, _ := ParseKey(other)
	_, err = Decrypt(otherKey, enc)
	assert.Error(t, err)
}

func TestParseKeyRejectsWrongLength(t *testing.T) {
	_, err := ParseKey("c2hvcnQ=")
	assert.ErrorContains(t, err, "must be 32 bytes")
}

func TestStoreReadsFileAndEnvironment(t *testing.T) {
	k, _ := NewKey()
	key, _ := ParseKey(k)
	enc, err := Encrypt(key, "whsec_file")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "secrets.env")
	writeFile(t, path, "STRIPE_WEBHOOK_SECRET="+enc+"\nPLAIN=value\n")

	s, err := Open(context.Background(), path, k, nil)
	require.NoError(t, err)
	s.env = func(name string) (string, bool) {
		if name == "FROM_ENV" {
			return "env-value", true
		}
		return "", false
	}

	v, err := s.Get("STRIPE_WEBHOOK_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "whsec_file", v)

	v, err = s.Get("PLAIN")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	v, err = s.Get("FROM_ENV")
	require.NoError(t, err)
	assert.Equal(t, "env-value", v)

	_, err = s.Get("NOPE")
	assert.ErrorIs(t, err, ErrMissing)
}

func TestReloadSwapsValuesAndKeepsOldOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	writeFile(t, path, "STRIPE_WEBHOOK_SECRET=old\n")

	s, err := Open(context.Background(), path, "", nil)
	require.NoError(t, err)

	writeFile(t, path, "STRIPE_WEBHOOK_SECRET=new\n")
	require.NoError(t, s.Reload(context.Background()))
	v, _ := s.Get("STRIPE_WEBHOOK_SECRET")
	assert.Equal(t, "new", v)

	// encrypted value without a master key
	writeFile(t, path, "STRIPE_WEBHOOK_SECRET=enc:AAAA\n")
	err = s.Reload(context.Background())
	assert.ErrorIs(t, err, ErrNoMasterKey)
	v, _ = s.Get("STRIPE_WEBHOOK_SECRET")
	assert.Equal(t, "new", v)

	require.NoError(t, os.Remove(path))
	assert.Error(t, s.Reload(context.Background()))
	v, _ = s.Get("STRIPE_WEBHOOK_SECRET")
	assert.Equal(t, "new", v)
}
