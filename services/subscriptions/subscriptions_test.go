package subscriptions

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

	"github.com/stretchr/testify/require"
)

type fixture struct {
	detector *Detector
	machine  *session.Machine
	kv       kvstore.Store
}

func noBrowser(t testing.TB) browser.Factory {
	return browsertest.Factory(func() *browsertest.Fake {
		t.Fatal("unexpected browser fallback")
		return nil
	})
}

func setup(t testing.TB, service string) (fixture, func()) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "services/subscriptions",
	})

	sessions := session.NewStore(result.Store)
	config := session.Config{
		Service:       service,
		PrimaryOrigin: "https://127.0.0.1",
		LoginCookie:   "member_session",
	}
	machine := session.NewMachine(config, noBrowser(t), sessions)

	jar := cookiejar.New()
	require.NoError(t, jar.Set(cookiejar.Cookie{
		Name:   "member_session",
		Value:  "abc",
		Domain: "127.0.0.1",
	}))
	require.NoError(t, sessions.Save(context.Background(), service, jar))

	detector := NewDetector(fetcher.New(noBrowser(t), sessions), result.Store)
	return fixture{detector: detector, machine: machine, kv: result.Store}, cleanup
}

func memberPage(t testing.TB, hits *atomic.Int64, body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(body))
	}))
}

func TestDetectPrefersMostSpecificMarker(t *testing.T) {
	f, cleanup := setup(t, "ea")
	defer cleanup()

	var hits atomic.Int64
	server := memberPage(t, &hits, `<html><body>
		<h1>Welcome back</h1>
		<p>Your EA Play Pro membership is active.</p>
	</body></html>`)
	defer server.Close()

	probe := EAPlay
	probe.URL = server.URL

	tier, err := f.detector.Detect(context.Background(), f.machine, probe)
	require.NoError(t, err)
	require.Equal(t, Tier("EA Play Pro"), tier)
}

func TestDetectUnknownWithoutMarkers(t *testing.T) {
	f, cleanup := setup(t, "xbox")
	defer cleanup()

	var hits atomic.Int64
	server := memberPage(t, &hits, `<html><body><p>Join today!</p></body></html>`)
	defer server.Close()

	probe := GamePass
	probe.URL = server.URL

	tier, err := f.detector.Detect(context.Background(), f.machine, probe)
	require.NoError(t, err)
	require.Equal(t, TierUnknown, tier)
}

func TestDetectCachesResult(t *testing.T) {
	f, cleanup := setup(t, "ubisoft")
	defer cleanup()

	var hits atomic.Int64
	server := memberPage(t, &hits, `<html><body>Ubisoft+ Premium member</body></html>`)
	defer server.Close()

	probe := UbisoftPlus
	probe.URL = server.URL

	ctx := context.Background()
	tier, err := f.detector.Detect(ctx, f.machine, probe)
	require.NoError(t, err)
	require.Equal(t, Tier("Ubisoft+ Premium"), tier)

	tier, err = f.detector.Detect(ctx, f.machine, probe)
	require.NoError(t, err)
	require.Equal(t, Tier("Ubisoft+ Premium"), tier)
	require.Equal(t, int64(1), hits.Load())
}

func TestDetectSurfacesFetchFailure(t *testing.T) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "services/subscriptions",
	})
	defer cleanup()

	// no stored session at all
	sessions := session.NewStore(result.Store)
	config := session.Config{
		Service:       "ea",
		PrimaryOrigin: "https://127.0.0.1",
		LoginCookie:   "member_session",
	}
	machine := session.NewMachine(config, browsertest.SingleDriverFactory(&browsertest.Fake{}), sessions)
	detector := NewDetector(fetcher.New(browsertest.SingleDriverFactory(&browsertest.Fake{}), sessions), result.Store)

	tier, err := detector.Detect(context.Background(), machine, EAPlay)
	require.Error(t, err)
	require.Equal(t, TierUnknown, tier)
}