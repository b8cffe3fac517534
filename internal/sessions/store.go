package sessions

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maltedev/marketplace-extractor/internal/models"
)

// Cookie mirrors the browser storage-state cookie shape so state written by
// one automation engine can be replayed by another and by plain HTTP clients.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

type StorageItem struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Origin struct {
	Origin       string        `json:"origin"`
	LocalStorage []StorageItem `json:"localStorage"`
}

// State is the persisted anti-bot session of one marketplace.
type State struct {
	Cookies   []Cookie  `json:"cookies"`
	Origins   []Origin  `json:"origins"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *State) IsEmpty() bool {
	return s == nil || (len(s.Cookies) == 0 && len(s.Origins) == 0)
}

// HTTPCookies converts the state into cookies for net/http clients, dropping
// anything already expired.
func (s *State) HTTPCookies(now time.Time) []*http.Cookie {
	if s == nil {
		return nil
	}
	cookies := make([]*http.Cookie, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c.Expires > 0 && int64(c.Expires) < now.Unix() {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	return cookies
}

// CookieHeader renders the cookies the browser would send to targetURL as a
// Cookie request header value. Cookies set by other domains, such as
// trackers the page loaded, are left out.
func (s *State) CookieHeader(targetURL string, now time.Time) string {
	u, err := url.Parse(targetURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	parts := make([]string, 0)
	for _, c := range s.HTTPCookies(now) {
		if !domainMatches(host, c.Domain) || !pathMatches(path, c.Path) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// domainMatches follows RFC 6265 domain matching. A cookie without a domain
// was stored host-only by an engine that did not record the host; it is kept.
func domainMatches(host, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if domain == "" {
		return true
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func pathMatches(requestPath, cookiePath string) bool {
	if cookiePath == "" || cookiePath == "/" {
		return true
	}
	if !strings.HasPrefix(requestPath, cookiePath) {
		return false
	}
	return len(requestPath) == len(cookiePath) ||
		strings.HasSuffix(cookiePath, "/") ||
		requestPath[len(cookiePath)] == '/'
}

// Store is the keyed session store shared by the resolver, the fetchers and
// the browser fallback.
type Store interface {
	Load(marketplace models.Marketplace) (*State, error)
	Save(marketplace models.Marketplace, state *State) error
}

// FileStore keeps one JSON file per marketplace under a directory.
type FileStore struct {
	mu  sync.RWMutex
	dir string
	now func() time.Time
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (fs *FileStore) path(marketplace models.Marketplace) string {
	return filepath.Join(fs.dir, string(marketplace)+".json")
}

// Load returns the stored state, or an empty state when none exists yet.
func (fs *FileStore) Load(marketplace models.Marketplace) (*State, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path(marketplace))
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("failed to read session for %s: %w", marketplace, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session for %s: %w", marketplace, err)
	}

	return &state, nil
}

// Save overwrites the marketplace's state. Callers only save after a
// successful extraction.
func (fs *FileStore) Save(marketplace models.Marketplace, state *State) error {
	if state == nil {
		return fmt.Errorf("nil session state")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	state.UpdatedAt = fs.now()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	target := fs.path(marketplace)
	tmpFile := target + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpFile, target)
}

// MemoryStore is an in-process Store used when no sessions directory is
// configured.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[models.Marketplace]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[models.Marketplace]State)}
}

func (m *MemoryStore) Load(marketplace models.Marketplace) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := m.states[marketplace]
	return &state, nil
}

func (m *MemoryStore) Save(marketplace models.Marketplace, state *State) error {
	if state == nil {
		return fmt.Errorf("nil session state")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[marketplace] = *state
	return nil
}
