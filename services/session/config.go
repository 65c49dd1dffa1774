package session

// Config parameterizes the login state machine for one storefront.
// Every partner flow observed so far differs only in data, never in
// behavior, so there is exactly one machine and one config per service.
type Config struct {
	// Service is the stable identifier the cookie jar is persisted
	// under ("steam", "ea", ...).
	Service string
	// PrimaryOrigin is the identity domain where the logged-in cookie
	// first appears.
	PrimaryOrigin string
	// SecondaryOrigin is the transactional/storefront domain that
	// keeps its own copy of the session cookie. Empty when the
	// service uses a single domain, which skips the sync stage.
	SecondaryOrigin string
	// LoginURL is where an interactive login starts.
	LoginURL string
	// SyncLoginURL propagates the session cookie onto the secondary
	// domain when it is missing there.
	SyncLoginURL string
	// ConfirmURL is an authenticated-only endpoint used as the final
	// confirmation that the session is live server-side.
	ConfirmURL string
	// ConfirmToken must appear in the confirm endpoint's body for the
	// session to count as confirmed. Empty skips the shape check.
	ConfirmToken string
	// LoginCookie is the designated logged-in cookie name.
	LoginCookie string
	// LoginCookiePrefix matches cookie families (e.g. "XB") on
	// services without a single well-known session cookie.
	LoginCookiePrefix string
	// LoggedOutMarkers are substrings of the confirm body that prove
	// the service handed back a guest page.
	LoggedOutMarkers []string
}

var Steam = Config{
	Service:          "steam",
	PrimaryOrigin:    "https://steamcommunity.com",
	SecondaryOrigin:  "https://store.steampowered.com",
	LoginURL:         "https://steamcommunity.com/login/home/?goto=",
	SyncLoginURL:     "https://store.steampowered.com/login/checkstoredlogin/?redirectURL=0",
	ConfirmURL:       "https://store.steampowered.com/dynamicstore/userdata/",
	ConfirmToken:     `"rgOwnedApps"`,
	LoginCookie:      "steamLoginSecure",
	LoggedOutMarkers: []string{"login_btn_signin", "global_login_btn"},
}

var EA = Config{
	Service:          "ea",
	PrimaryOrigin:    "https://accounts.ea.com",
	SecondaryOrigin:  "https://www.ea.com",
	LoginURL:         "https://www.ea.com/login",
	SyncLoginURL:     "https://www.ea.com/login",
	ConfirmURL:       "https://www.ea.com/ea-play/member-benefits",
	LoginCookie:      "PLAY_SESSION",
	LoggedOutMarkers: []string{"Sign In", "Create account"},
}

var Ubisoft = Config{
	Service:           "ubisoft",
	PrimaryOrigin:     "https://ubisoft.com",
	SecondaryOrigin:   "https://store.ubisoft.com",
	LoginURL:          "https://store.ubisoft.com/uk/my-account",
	SyncLoginURL:      "https://store.ubisoft.com/uk/my-account",
	ConfirmURL:        "https://store.ubisoft.com/uk/my-account",
	LoginCookiePrefix: "ubi",
	LoggedOutMarkers:  []string{"Log in", "Create an account"},
}

var Xbox = Config{
	Service:           "xbox",
	PrimaryOrigin:     "https://www.xbox.com",
	LoginURL:          "https://www.xbox.com/en-US/play",
	ConfirmURL:        "https://www.xbox.com/en-US/play",
	LoginCookiePrefix: "XB",
	LoggedOutMarkers:  []string{"login.live.com"},
}

// Configs indexes the known services by identifier.
var Configs = map[string]Config{
	Steam.Service:   Steam,
	EA.Service:      EA,
	Ubisoft.Service: Ubisoft,
	Xbox.Service:    Xbox,
}
