package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swissborg/academic-certs/internal/identity"
	"github.com/swissborg/academic-certs/internal/keys"
	"github.com/swissborg/academic-certs/internal/ledger"
	"github.com/swissborg/academic-certs/internal/signer"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CONFIG_PATH", "")

	cmd := newRootCmd(&GlobalFlags{})
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func runJSON[T any](t *testing.T, args ...string) T {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err)

	var v T
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestKeygenPrintsUsableKeys(t *testing.T) {
	out := runJSON[keygenOutput](t, "keygen")

	_, err := keys.ParsePrivateKey(out.PrivateKey)
	require.NoError(t, err)
	_, err = keys.ParsePublicKey(out.PublicKey)
	require.NoError(t, err)
	assert.Empty(t, out.Directory)
}

func TestKeygenWritesFilesOnce(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "registrar")

	out := runJSON[keygenOutput](t, "keygen", "--out-dir", dir)
	assert.Empty(t, out.PrivateKey)
	assert.Equal(t, dir, out.Directory)

	private, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	require.NoError(t, err)
	public, err := os.ReadFile(filepath.Join(dir, publicKeyFile))
	require.NoError(t, err)
	assert.Equal(t, out.PublicKey, string(public))

	info, err := os.Stat(filepath.Join(dir, privateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = run(t, "keygen", "--out-dir", dir)
	require.Error(t, err)
	again, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	require.NoError(t, err)
	assert.Equal(t, private, again, "existing key must not be overwritten")
}

func TestLedgerAccount(t *testing.T) {
	out := runJSON[ledgerAccountOutput](t, "ledger-account")

	require.True(t, common.IsHexAddress(out.Address))
	_, err := keys.ParseLedgerKey(out.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(out.Address).Hex(), out.Address, "address is checksummed")
}

func TestDeriveStudent(t *testing.T) {
	out := runJSON[identifierOutput](t, "derive-id", "student",
		"--firstname", "Tai Man", "--lastname", "Chan", "--id-prefix", "Y123", "--dob", "2003-05-17")

	want := identity.Student("Chan", "Tai Man", "Y123", time.Date(2003, 5, 17, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, want, out.UniqueIdentifier)

	_, err := run(t, "derive-id", "student",
		"--firstname", "Tai Man", "--lastname", "Chan", "--id-prefix", "123", "--dob", "2003-05-17")
	assert.Error(t, err)

	_, err = run(t, "derive-id", "student",
		"--firstname", "Tai Man", "--lastname", "Chan", "--id-prefix", "Y123", "--dob", "17.05.2003")
	assert.Error(t, err)
}

func TestDeriveInstitutionAndUser(t *testing.T) {
	root := runJSON[identifierOutput](t, "derive-id", "institution", "--name", "HKU")
	assert.Equal(t, identity.Institution("HKU", ""), root.UniqueIdentifier)
	assert.Len(t, root.Levels, 1)

	faculty := runJSON[identifierOutput](t, "derive-id", "institution", "--name", "Engineering", "--parent", root.UniqueIdentifier)
	assert.Equal(t, []string{root.UniqueIdentifier, identity.Derive("Engineering")}, faculty.Levels)

	user := runJSON[identifierOutput](t, "derive-id", "user", "--username", "registrar", "--institution", faculty.UniqueIdentifier)
	assert.Len(t, user.Levels, 3)
	assert.Equal(t, identity.User("registrar"), user.Levels[2])

	_, err := run(t, "derive-id", "institution")
	assert.Error(t, err)
}

func TestVerifyOffline(t *testing.T) {
	pair, err := keys.GenerateSigningKeyPair()
	require.NoError(t, err)
	hash := "0x" + "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
	signature, err := signer.SignPEM(hash, pair.Private)
	require.NoError(t, err)

	pubPath := filepath.Join(t.TempDir(), publicKeyFile)
	require.NoError(t, os.WriteFile(pubPath, []byte(pair.Public), 0o644))

	out := runJSON[verifyOutput](t, "verify", "--signature", signature, "--hash", hash, "--public-key", pubPath)
	wantDigest, err := signer.SignatureKeccak(signature)
	require.NoError(t, err)
	assert.Equal(t, wantDigest, out.SignatureKeccak)
	require.NotNil(t, out.Signature)
	assert.True(t, *out.Signature)
	assert.Nil(t, out.OnChain)

	other := "0x" + "00" + hash[4:]
	out = runJSON[verifyOutput](t, "verify", "--signature", signature, "--hash", other, "--public-key", pubPath)
	require.NotNil(t, out.Signature)
	assert.False(t, *out.Signature)

	_, err = run(t, "verify", "--hash", hash)
	assert.Error(t, err)
}

func TestLedgerCommandsNeedConfig(t *testing.T) {
	_, err := run(t, "check-chain")
	assert.ErrorContains(t, err, "no config")

	_, err = run(t, "authorize", "not-an-address")
	assert.Error(t, err)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("Database:\n  DSN: test.db\n"), 0o644))
	_, err = run(t, "--config", cfgPath, "check-chain")
	assert.ErrorIs(t, err, ledger.ErrLedgerDisabled)
}
