// Package cookiejar holds the typed, serializable cookie sets that make
// up a storefront session. One jar per service, persisted as a json
// array blob keyed by the service name.
package cookiejar

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Cookie is a single persisted cookie record. Field names are fixed:
// they are the on-disk json layout shared with earlier versions of the
// jar files.
type Cookie struct {
	Name       string `json:"Name"`
	Value      string `json:"Value"`
	Domain     string `json:"Domain"`
	Path       string `json:"Path"`
	Expires    int64  `json:"Expires,omitempty"`
	IsSecure   bool   `json:"IsSecure"`
	IsHttpOnly bool   `json:"IsHttpOnly"`
}

// normalizedDomain strips the leading wildcard dot and folds case, so
// that ".steampowered.com" and "steampowered.com" dedupe to one entry.
func normalizedDomain(domain string) string {
	return strings.ToLower(strings.TrimPrefix(domain, "."))
}

func (c Cookie) key() string {
	return c.Name + "\x00" + normalizedDomain(c.Domain)
}

// MatchesHost reports whether the cookie is in scope for a request to
// the given host. Host-only cookies match the exact host, leading-dot
// cookies also match subdomains.
func (c Cookie) MatchesHost(host string) bool {
	host = strings.ToLower(host)
	domain := normalizedDomain(c.Domain)
	if host == domain {
		return true
	}
	if strings.HasPrefix(c.Domain, ".") {
		return strings.HasSuffix(host, "."+domain)
	}
	return false
}

// Expired reports whether the cookie has an absolute expiry in the past.
// Session cookies (no expiry) never expire here.
func (c Cookie) Expired(now time.Time) bool {
	return c.Expires != 0 && time.Unix(c.Expires, 0).Before(now)
}

func (c Cookie) HttpCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   normalizedDomain(c.Domain),
		Path:     c.Path,
		Secure:   c.IsSecure,
		HttpOnly: c.IsHttpOnly,
	}
}

// Jar is an ordered set of cookies deduplicated by (name, domain) with
// last-write-wins semantics.
type Jar struct {
	cookies []Cookie
	index   map[string]int
}

func New() *Jar {
	return &Jar{index: map[string]int{}}
}

// Set inserts or replaces a cookie. A cookie with the same name and
// normalized domain as an existing entry overwrites it in place.
func (j *Jar) Set(c Cookie) error {
	if c.Name == "" || c.Domain == "" {
		return fmt.Errorf("cookie requires a name and a domain: %+v", c)
	}
	if c.Path == "" {
		c.Path = "/"
	}

	if j.index == nil {
		j.index = map[string]int{}
	}
	at, exists := j.index[c.key()]
	if exists {
		j.cookies[at] = c
		return nil
	}
	j.index[c.key()] = len(j.cookies)
	j.cookies = append(j.cookies, c)
	return nil
}

// Merge applies every cookie in `cookies` in order, last write wins.
// Invalid records are skipped rather than failing the whole merge.
func (j *Jar) Merge(cookies []Cookie) {
	for _, c := range cookies {
		j.Set(c)
	}
}

// Get returns the cookie for (name, domain) if present.
func (j *Jar) Get(name, domain string) (Cookie, bool) {
	at, exists := j.index[Cookie{Name: name, Domain: domain}.key()]
	if !exists {
		return Cookie{}, false
	}
	return j.cookies[at], true
}

// Cookies returns the jar contents in insertion order.
func (j *Jar) Cookies() []Cookie {
	out := make([]Cookie, len(j.cookies))
	copy(out, j.cookies)
	return out
}

// CookiesForHost returns the cookies in scope for a request host,
// skipping expired entries.
func (j *Jar) CookiesForHost(host string, now time.Time) []Cookie {
	var out []Cookie
	for _, c := range j.cookies {
		if c.Expired(now) {
			continue
		}
		if c.MatchesHost(host) {
			out = append(out, c)
		}
	}
	return out
}

func (j *Jar) Len() int {
	return len(j.cookies)
}

// Marshal renders the jar in the persisted layout: a json array of
// cookie records.
func (j *Jar) Marshal() ([]byte, error) {
	return json.MarshalIndent(j.cookies, "", "  ")
}

// Unmarshal parses a persisted jar blob. Expired cookies are dropped on
// load so a stale blob degrades to a smaller jar instead of poisoning
// requests with dead cookies.
func Unmarshal(buff []byte, now time.Time) (*Jar, error) {
	var records []Cookie
	err := json.Unmarshal(buff, &records)
	if err != nil {
		return nil, fmt.Errorf("parse cookie jar: %w", err)
	}

	jar := New()
	for _, c := range records {
		if c.Expired(now) {
			continue
		}
		jar.Set(c)
	}
	return jar, nil
}
