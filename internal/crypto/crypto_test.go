package crypto

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	creds := Credentials{APIKey: "mx0abc123", APISecret: "deadbeefcafe"}

	sealed, err := SealCredentials(creds, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "mx0abc123", "plaintext never appears on disk")
	assert.NotContains(t, string(sealed), "deadbeefcafe")

	got, err := OpenCredentials(sealed, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestOpenRejectsWrongPassword(t *testing.T) {
	sealed, err := SealCredentials(Credentials{APIKey: "k", APISecret: "s"}, "right")
	require.NoError(t, err)

	_, err = OpenCredentials(sealed, "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decryption failed")
}

func TestSealRequiresPasswordAndKeyPair(t *testing.T) {
	_, err := SealCredentials(Credentials{APIKey: "k", APISecret: "s"}, "")
	assert.Error(t, err)

	_, err = SealCredentials(Credentials{APIKey: "k"}, "pw")
	assert.Error(t, err)
}

func TestLoadCredentialsResolutionOrder(t *testing.T) {
	// Direct key pair wins without touching the filesystem.
	got, err := LoadCredentials(CredentialSource{APIKey: "k", APISecret: "s", SealedPath: "/does/not/exist"})
	require.NoError(t, err)
	assert.Equal(t, Credentials{APIKey: "k", APISecret: "s"}, got)

	// Fall back to the sealed file.
	sealed, err := SealCredentials(Credentials{APIKey: "filekey", APISecret: "filesecret"}, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	got, err = LoadCredentials(CredentialSource{SealedPath: path, Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "filekey", got.APIKey)

	// Nothing configured is an error.
	_, err = LoadCredentials(CredentialSource{})
	assert.Error(t, err)
}

func TestSignKnownVector(t *testing.T) {
	// HMAC-SHA256 test vector: key "key", message "The quick brown fox
	// jumps over the lazy dog".
	s := &APISigner{Key: "id", Secret: "key"}
	assert.Equal(t,
		"f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8",
		s.sign("The quick brown fox jumps over the lazy dog"),
	)
}

func TestSignedQueryAtIsDeterministic(t *testing.T) {
	s := &APISigner{Key: "id", Secret: "secret"}
	at := time.UnixMilli(1700000000000)

	params := url.Values{}
	params.Set("symbol", "DEBTUSDT")

	q1 := s.SignedQueryAt(params, at)
	q2 := s.SignedQueryAt(params, at)
	assert.Equal(t, q1, q2)

	assert.Contains(t, q1, "symbol=DEBTUSDT")
	assert.Contains(t, q1, "timestamp=1700000000000")

	// The signature is the trailing parameter, hex-encoded SHA-256 length.
	i := strings.LastIndex(q1, "&signature=")
	require.Positive(t, i)
	assert.Len(t, q1[i+len("&signature="):], 64)

	// The caller's params are not mutated.
	assert.Empty(t, params.Get("timestamp"))

	other := &APISigner{Key: "id", Secret: "different"}
	assert.NotEqual(t, q1, other.SignedQueryAt(params, at))
}

func TestSignerStringRedacts(t *testing.T) {
	s := &APISigner{Key: "mx0abcdef", Secret: "topsecretvalue"}
	out := s.String()
	assert.NotContains(t, out, "topsecretvalue")
	assert.Contains(t, out, "mx0a****")
}
