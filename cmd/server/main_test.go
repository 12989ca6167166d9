package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/experience-booking/internal/secrets"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSecretsKeygenAndEncrypt(t *testing.T) {
	out, err := run(t, "", "secrets", "keygen")
	require.NoError(t, err)
	key := strings.TrimSpace(out)
	raw, err := secrets.ParseKey(key)
	require.NoError(t, err)

	t.Setenv("SECRETS_MASTER_KEY", key)
	out, err = run(t, "whsec_test_123\n", "secrets", "encrypt")
	require.NoError(t, err)
	sealed := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(sealed, "enc:"))

	plain, err := secrets.Decrypt(raw, sealed)
	require.NoError(t, err)
	assert.Equal(t, "whsec_test_123", plain)
}

func TestSecretsEncryptNeedsKey(t *testing.T) {
	t.Setenv("SECRETS_MASTER_KEY", "")
	_, err := run(t, "value\n", "secrets", "encrypt")
	assert.Error(t, err)
}

func TestUserAddValidatesFlags(t *testing.T) {
	_, err := run(t, "", "user", "add", "--email", "a@example.com", "--password", "long-enough-pw", "--name", "A", "--role", "customer")
	assert.ErrorContains(t, err, "role must be")

	_, err = run(t, "", "user", "add", "--email", "a@example.com", "--password", "long-enough-pw", "--name", "A", "--notify", "sms")
	assert.ErrorContains(t, err, "--phone")

	_, err = run(t, "", "user", "add", "--email", "a@example.com", "--name", "A")
	assert.Error(t, err)
}

func TestVoucherIssueValidatesFlags(t *testing.T) {
	_, err := run(t, "", "voucher", "issue", "--type", "fixed_amount", "--cents", "0")
	assert.ErrorContains(t, err, "positive --cents")

	_, err = run(t, "", "voucher", "issue", "--type", "experience")
	assert.ErrorContains(t, err, "--experience")

	_, err = run(t, "", "voucher", "issue", "--type", "gift")
	assert.ErrorContains(t, err, "unknown voucher type")
}
