package session

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CookieError is fatal at session construction: the cookie file the operator
// named does not exist or cannot be read.
type CookieError struct {
	Path string
	Err  error
}

func (e *CookieError) Error() string {
	return fmt.Sprintf("The file '%s' could not be found.", e.Path)
}

func (e *CookieError) Unwrap() error { return e.Err }

// cookie is one Netscape cookie-file row:
// domain \t includeSubdomains \t path \t secure \t expires \t name \t value
type cookie struct {
	Domain     string
	IncludeSub bool
	Path       string
	Secure     bool
	Expires    int64 // unix seconds, 0 = session cookie
	Name       string
	Value      string
}

// Jar is a Netscape-file-backed http.CookieJar. It keeps every loaded row so
// the file can be written back out, and records Set-Cookie responses so a
// saved file reflects the finished session.
type Jar struct {
	mu      sync.Mutex
	cookies []cookie
	now     func() time.Time
}

// NewJar returns an empty jar.
func NewJar() *Jar {
	return &Jar{now: time.Now}
}

// LoadJar reads a Netscape-format cookie file. A missing or unreadable file
// is a *CookieError.
func LoadJar(path string) (*Jar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CookieError{Path: path, Err: err}
	}
	j := NewJar()
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 7 {
			continue
		}
		expires, _ := strconv.ParseInt(cols[4], 10, 64)
		j.cookies = append(j.cookies, cookie{
			Domain:     cols[0],
			IncludeSub: strings.EqualFold(cols[1], "TRUE") || strings.HasPrefix(cols[0], "."),
			Path:       cols[2],
			Secure:     strings.EqualFold(cols[3], "TRUE"),
			Expires:    expires,
			Name:       cols[5],
			Value:      cols[6],
		})
	}
	return j, nil
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	host := strings.ToLower(u.Hostname())
	path := u.Path
	if path == "" {
		path = "/"
	}
	now := j.now().Unix()

	var out []*http.Cookie
	for _, c := range j.cookies {
		if c.Expires > 0 && c.Expires <= now {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		if !domainMatch(host, c.Domain, c.IncludeSub) {
			continue
		}
		if !strings.HasPrefix(path, c.Path) {
			continue
		}
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

// SetCookies implements http.CookieJar, merging response cookies into the
// jar so SaveCookies writes the post-session state.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		domain := strings.ToLower(c.Domain)
		includeSub := domain != ""
		if domain == "" {
			domain = strings.ToLower(u.Hostname())
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		var expires int64
		switch {
		case c.MaxAge > 0:
			expires = j.now().Add(time.Duration(c.MaxAge) * time.Second).Unix()
		case c.MaxAge < 0:
			expires = 1 // already expired, remove below
		case !c.Expires.IsZero():
			expires = c.Expires.Unix()
		}

		idx := j.find(domain, path, c.Name)
		if c.MaxAge < 0 || (expires > 0 && expires <= j.now().Unix()) {
			if idx >= 0 {
				j.cookies = append(j.cookies[:idx], j.cookies[idx+1:]...)
			}
			continue
		}
		nc := cookie{
			Domain:     domain,
			IncludeSub: includeSub || strings.HasPrefix(domain, "."),
			Path:       path,
			Secure:     c.Secure,
			Expires:    expires,
			Name:       c.Name,
			Value:      c.Value,
		}
		if idx >= 0 {
			j.cookies[idx] = nc
		} else {
			j.cookies = append(j.cookies, nc)
		}
	}
}

func (j *Jar) find(domain, path, name string) int {
	for i, c := range j.cookies {
		if c.Domain == domain && c.Path == path && c.Name == name {
			return i
		}
	}
	return -1
}

// Save writes the jar in Netscape format, dropping cookies that have
// expired by write time.
func (j *Jar) Save(path string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := j.now().Unix()
	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")

	sorted := append([]cookie(nil), j.cookies...)
	sort.SliceStable(sorted, func(a, bb int) bool {
		if sorted[a].Domain != sorted[bb].Domain {
			return sorted[a].Domain < sorted[bb].Domain
		}
		return sorted[a].Name < sorted[bb].Name
	})
	for _, c := range sorted {
		if c.Expires > 0 && c.Expires <= now {
			continue
		}
		flag := "FALSE"
		if c.IncludeSub {
			flag = "TRUE"
		}
		secure := "FALSE"
		if c.Secure {
			secure = "TRUE"
		}
		fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", c.Domain, flag, c.Path, secure, c.Expires, c.Name, c.Value)
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func domainMatch(host, domain string, includeSub bool) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if host == domain {
		return true
	}
	return includeSub && strings.HasSuffix(host, "."+domain)
}
