package vault

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tuning-platform/internal/errors"
	"github.com/tuning-platform/internal/models"
	"github.com/tuning-platform/internal/storage"
	"github.com/tuning-platform/internal/types"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestNewFieldCipher_KeyLength(t *testing.T) {
	_, err := NewFieldCipher([]byte("short"))
	require.Error(t, err)

	_, err = NewFieldCipher(testKey())
	require.NoError(t, err)
}

func TestFieldCipher_RoundTrip(t *testing.T) {
	cipher, err := NewFieldCipher(testKey())
	require.NoError(t, err)

	for _, plaintext := range []string{"", "api-key-123", "secret with spaces", "ünïcode"} {
		enc, err := cipher.Encrypt(plaintext)
		require.NoError(t, err)

		dec, err := cipher.Decrypt(enc)
		require.NoError(t, err)
		assert.Equal(t, plaintext, dec)
	}
}

func TestFieldCipher_FreshIVPerEncrypt(t *testing.T) {
	cipher, err := NewFieldCipher(testKey())
	require.NoError(t, err)

	a, err := cipher.Encrypt("same plaintext")
	require.NoError(t, err)
	b, err := cipher.Encrypt("same plaintext")
	require.NoError(t, err)

	// Same plaintext must not produce the same ciphertext.
	assert.NotEqual(t, a, b)
}

func TestFieldCipher_DecryptRejectsGarbage(t *testing.T) {
	cipher, err := NewFieldCipher(testKey())
	require.NoError(t, err)

	_, err = cipher.Decrypt("not base64!!!")
	assert.Error(t, err)

	// Valid base64 but shorter than one IV.
	_, err = cipher.Decrypt("c2hvcnQ=")
	assert.Error(t, err)
}

type fakeCredentialRepo struct {
	records map[string]*models.Credential
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{records: make(map[string]*models.Credential)}
}

func repoKey(tenantID string, vendor types.Vendor) string {
	return fmt.Sprintf("%s/%s", tenantID, vendor)
}

func (r *fakeCredentialRepo) Get(ctx context.Context, tenantID string, vendor types.Vendor) (*models.Credential, error) {
	rec, ok := r.records[repoKey(tenantID, vendor)]
	if !ok {
		return nil, storage.ErrNoRows
	}
	return rec, nil
}

func (r *fakeCredentialRepo) Upsert(ctx context.Context, cred *models.Credential) error {
	r.records[repoKey(cred.TenantID, cred.Vendor)] = cred
	return nil
}

func (r *fakeCredentialRepo) UpdateAccessToken(ctx context.Context, tenantID string, vendor types.Vendor, encryptedToken string) error {
	rec, ok := r.records[repoKey(tenantID, vendor)]
	if !ok {
		return storage.ErrNoRows
	}
	rec.AccessToken = &encryptedToken
	return nil
}

func newTestStore(t *testing.T) (*Store, *fakeCredentialRepo) {
	t.Helper()
	cipher, err := NewFieldCipher(testKey())
	require.NoError(t, err)
	repo := newFakeCredentialRepo()
	return NewStore(repo, cipher), repo
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "tenant-1", types.VendorAlientech, Fields{
		ClientID:     "client-abc",
		ClientSecret: "secret-xyz",
	})
	require.NoError(t, err)

	// Secrets must not be stored in the clear.
	rec := repo.records[repoKey("tenant-1", types.VendorAlientech)]
	require.NotNil(t, rec.ClientID)
	assert.NotEqual(t, "client-abc", *rec.ClientID)
	assert.Nil(t, rec.APIKey)

	dec, err := store.Get(ctx, "tenant-1", types.VendorAlientech)
	require.NoError(t, err)
	assert.Equal(t, "client-abc", dec.ClientID)
	assert.Equal(t, "secret-xyz", dec.ClientSecret)
	assert.Empty(t, dec.APIKey)
	assert.Empty(t, dec.AccessToken)
}

func TestStore_GetMissingCredential(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "tenant-1", types.VendorMagic)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCredentialNotFound))
}

func TestStore_StoreAccessToken(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "tenant-1", types.VendorAlientech, Fields{
		ClientID:     "client-abc",
		ClientSecret: "secret-xyz",
	}))

	require.NoError(t, store.StoreAccessToken(ctx, "tenant-1", types.VendorAlientech, "bearer-token-1"))

	rec := repo.records[repoKey("tenant-1", types.VendorAlientech)]
	require.NotNil(t, rec.AccessToken)
	assert.NotEqual(t, "bearer-token-1", *rec.AccessToken)

	dec, err := store.Get(ctx, "tenant-1", types.VendorAlientech)
	require.NoError(t, err)
	assert.Equal(t, "bearer-token-1", dec.AccessToken)

	// Rewriting replaces the previous token.
	require.NoError(t, store.StoreAccessToken(ctx, "tenant-1", types.VendorAlientech, "bearer-token-2"))
	dec, err = store.Get(ctx, "tenant-1", types.VendorAlientech)
	require.NoError(t, err)
	assert.Equal(t, "bearer-token-2", dec.AccessToken)
}

func TestStore_StoreAccessTokenMissingCredential(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.StoreAccessToken(context.Background(), "tenant-9", types.VendorAlientech, "tok")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeCredentialNotFound))
}
