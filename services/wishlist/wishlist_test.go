package wishlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"legionlaunch/lib/browser"
	"legionlaunch/lib/browser/browsertest"
	"legionlaunch/lib/cookiejar"
	"legionlaunch/lib/kvstore"
	"legionlaunch/lib/testutil"
	"legionlaunch/services/fetcher"
	"legionlaunch/services/session"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	service  *Service
	sessions session.Store
	kv       kvstore.Store
}

func noBrowser(t testing.TB) browser.Factory {
	return browsertest.Factory(func() *browsertest.Fake {
		t.Fatal("unexpected browser fallback")
		return nil
	})
}

func testConfig() session.Config {
	return session.Config{
		Service:       "test",
		PrimaryOrigin: "https://127.0.0.1",
		LoginURL:      "https://127.0.0.1/signin",
		ConfirmURL:    "https://127.0.0.1/confirm",
		ConfirmToken:  `"rgOwnedApps"`,
		LoginCookie:   "steamLoginSecure",
	}
}

func setup(t testing.TB, authFactory browser.Factory, userdataURL, appdetailsURL string) (fixture, func()) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "services/wishlist",
	})

	sessions := session.NewStore(result.Store)
	machine := session.NewMachine(testConfig(), authFactory, sessions)
	service := NewService(ServiceOptions{
		Fetcher:       fetcher.New(noBrowser(t), sessions),
		Machine:       machine,
		Sessions:      sessions,
		KV:            result.Store,
		UserdataURL:   userdataURL,
		AppdetailsURL: appdetailsURL,
	})
	return fixture{service: service, sessions: sessions, kv: result.Store}, cleanup
}

func storeJar(t testing.TB, sessions session.Store, value string) {
	jar := cookiejar.New()
	require.NoError(t, jar.Set(cookiejar.Cookie{
		Name:   "steamLoginSecure",
		Value:  value,
		Domain: "127.0.0.1",
	}))
	require.NoError(t, sessions.Save(context.Background(), "test", jar))
}

func userdataServer(t testing.TB) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("steamLoginSecure")
		if err != nil || c.Value != "fresh" {
			w.Write([]byte(`{"rgWishlist":[],"rgOwnedApps":[]}`))
			return
		}
		w.Write([]byte(`{"rgWishlist":[10,20,30],"rgOwnedApps":[40]}`))
	}))
}

func TestPull(t *testing.T) {
	server := userdataServer(t)
	defer server.Close()

	f, cleanup := setup(t, noBrowser(t), server.URL+"/dynamicstore/userdata/", "")
	defer cleanup()
	storeJar(t, f.sessions, "fresh")

	snap, err := f.service.Pull(context.Background())
	require.NoError(t, err)

	expected := Snapshot{Wishlist: []int64{10, 20, 30}, Owned: []int64{40}}
	if diff := cmp.Diff(expected, snap); diff != "" {
		t.Fatal(diff)
	}
}

func TestPullRecoversFromGuestProfile(t *testing.T) {
	server := userdataServer(t)
	defer server.Close()

	// the auth browser profile can still mint a live session
	authDriver := &browsertest.Fake{
		Pages: map[string]string{testConfig().ConfirmURL: `{"rgOwnedApps":[40]}`},
	}
	authDriver.SetCookies(cookiejar.Cookie{
		Name:   "steamLoginSecure",
		Value:  "fresh",
		Domain: "127.0.0.1",
	})

	f, cleanup := setup(t, browsertest.SingleDriverFactory(authDriver), server.URL+"/dynamicstore/userdata/", "")
	defer cleanup()
	storeJar(t, f.sessions, "stale")

	snap, err := f.service.Pull(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{10, 20, 30}, snap.Wishlist)
}

func TestPullNeedsLoginWhenRefreshFails(t *testing.T) {
	server := userdataServer(t)
	defer server.Close()

	// empty auth profile: the refresh has nothing to work with
	f, cleanup := setup(t, browsertest.SingleDriverFactory(&browsertest.Fake{}), server.URL+"/dynamicstore/userdata/", "")
	defer cleanup()
	storeJar(t, f.sessions, "stale")

	_, err := f.service.Pull(context.Background())
	require.ErrorIs(t, err, fetcher.ErrNeedsLogin)
}

func appdetailsServer(t testing.TB, hits *atomic.Int64) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		appID := r.URL.Query().Get("appids")
		if appID != "440" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"440": {"success": true, "data": {
			"name": "Team Fortress 2",
			"header_image": "https://cdn.example/440/header.jpg",
			"short_description": "Nine distinct classes."
		}}}`))
	}))
}

func TestResolveNameCachesLookups(t *testing.T) {
	var hits atomic.Int64
	server := appdetailsServer(t, &hits)
	defer server.Close()

	f, cleanup := setup(t, noBrowser(t), "", server.URL)
	defer cleanup()

	ctx := context.Background()
	require.Equal(t, "Team Fortress 2", f.service.ResolveName(ctx, 440))
	require.Equal(t, "Team Fortress 2", f.service.ResolveName(ctx, 440))
	require.Equal(t, int64(1), hits.Load())
}

func TestResolveNameFallsBack(t *testing.T) {
	var hits atomic.Int64
	server := appdetailsServer(t, &hits)
	defer server.Close()

	f, cleanup := setup(t, noBrowser(t), "", server.URL)
	defer cleanup()

	require.Equal(t, "AppID 42", f.service.ResolveName(context.Background(), 42))
}

func TestResolveMetadata(t *testing.T) {
	var hits atomic.Int64
	server := appdetailsServer(t, &hits)
	defer server.Close()

	f, cleanup := setup(t, noBrowser(t), "", server.URL)
	defer cleanup()

	ctx := context.Background()
	meta := f.service.ResolveMetadata(ctx, 440)
	require.Equal(t, "Team Fortress 2", meta.Name)
	require.Equal(t, "https://cdn.example/440/header.jpg", meta.CoverURL)
	require.Equal(t, "Nine distinct classes.", meta.Description)
	require.Contains(t, meta.HeroURL, "/440/")

	// every field came from one lookup and is now cached
	f.service.ResolveMetadata(ctx, 440)
	require.Equal(t, int64(1), hits.Load())
}