package sessions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

func TestFileStore_LoadMissingReturnsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	state, err := store.Load(models.MarketplaceShopee)
	require.NoError(t, err)
	assert.True(t, state.IsEmpty())
}

func TestFileStore_SaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	in := &State{
		Cookies: []Cookie{{Name: "SPC_F", Value: "abc", Domain: ".shopee.com.br", Path: "/", Expires: -1}},
		Origins: []Origin{{Origin: "https://shopee.com.br", LocalStorage: []StorageItem{{Name: "k", Value: "v"}}}},
	}
	require.NoError(t, store.Save(models.MarketplaceShopee, in))

	_, err = os.Stat(filepath.Join(dir, "shopee.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "shopee.json.tmp"))
	assert.True(t, os.IsNotExist(err))

	out, err := store.Load(models.MarketplaceShopee)
	require.NoError(t, err)
	assert.Equal(t, in.Cookies, out.Cookies)
	assert.Equal(t, in.Origins, out.Origins)
	assert.True(t, fixed.Equal(out.UpdatedAt))

	// marketplaces are isolated
	other, err := store.Load(models.MarketplaceAmazon)
	require.NoError(t, err)
	assert.True(t, other.IsEmpty())
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "amazon.json"), []byte("{not json"), 0o600))

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.Load(models.MarketplaceAmazon)
	assert.Error(t, err)
}

func TestState_CookieHeaderSkipsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := &State{Cookies: []Cookie{
		{Name: "session", Value: "1", Expires: -1},
		{Name: "old", Value: "2", Expires: float64(now.Add(-time.Hour).Unix())},
		{Name: "fresh", Value: "3", Expires: float64(now.Add(time.Hour).Unix())},
	}}

	assert.Equal(t, "session=1; fresh=3", state.CookieHeader("https://shopee.com.br/product/1/2", now))
	assert.Len(t, state.HTTPCookies(now), 2)
}

func TestState_CookieHeaderScopedToTarget(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	state := &State{Cookies: []Cookie{
		{Name: "SPC_F", Value: "a", Domain: ".shopee.com.br", Path: "/"},
		{Name: "SPC_EC", Value: "b", Domain: "shopee.com.br", Path: "/", Secure: true},
		{Name: "_ga", Value: "c", Domain: ".google-analytics.com", Path: "/"},
		{Name: "_fbp", Value: "d", Domain: ".facebook.com", Path: "/"},
		{Name: "api_only", Value: "e", Domain: ".shopee.com.br", Path: "/api"},
		{Name: "evil", Value: "f", Domain: "notshopee.com.br", Path: "/"},
	}}

	assert.Equal(t, "SPC_F=a; SPC_EC=b", state.CookieHeader("https://shopee.com.br/product/1/2", now))
	assert.Equal(t, "SPC_F=a; SPC_EC=b; api_only=e", state.CookieHeader("https://shopee.com.br/api/v4/item/get", now))
	assert.Equal(t, "SPC_F=a", state.CookieHeader("http://s.shopee.com.br/x", now))
	assert.Equal(t, "SPC_F=a; SPC_EC=b", state.CookieHeader("https://shopee.com.br/apix", now))
	assert.Empty(t, state.CookieHeader("not a url", now))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Save(models.MarketplaceMagalu, &State{Cookies: []Cookie{{Name: "a", Value: "b"}}}))

	state, err := store.Load(models.MarketplaceMagalu)
	require.NoError(t, err)
	assert.Len(t, state.Cookies, 1)

	assert.Error(t, store.Save(models.MarketplaceMagalu, nil))
}
