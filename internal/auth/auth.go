package auth

import (
	"bufio"
	"encoding/base64"
	"errors"
	"net/http"
	"os"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// Store reads username:secret pairs from a flat credentials file. The file
// is re-read on every lookup so external edits take effect immediately.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load parses the credentials file. Blank lines and #-comments are skipped;
// the first colon splits username from secret. A missing file yields an
// empty set rather than an error.
func (s *Store) Load() (map[string]string, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	defer file.Close()

	users := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, secret, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name != "" {
			users[name] = strings.TrimSpace(secret)
		}
	}
	return users, scanner.Err()
}

func (s *Store) Verify(username, secret string) bool {
	users, err := s.Load()
	if err != nil {
		return false
	}
	stored, ok := users[username]
	return ok && stored == secret
}

// Gate authenticates requests against a credential store.
type Gate struct {
	store *Store
}

func NewGate(store *Store) *Gate {
	return &Gate{store: store}
}

// parseBasic decodes a Basic authorization header. Any malformed header is
// treated as absent, not as an error.
func parseBasic(header string) (string, string, bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	username, secret, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	return username, secret, true
}

func queryCredentials(r *http.Request) (string, string) {
	q := r.URL.Query()
	user := q.Get("user")
	if user == "" {
		user = q.Get("username")
	}
	secret := q.Get("pass")
	if secret == "" {
		secret = q.Get("password")
	}
	return user, secret
}

// Authenticate resolves the caller's identity for an HTTP request. The
// Basic header is tried first, then plain user/password query parameters.
// Returns ErrUnauthorized when neither yields a verified match.
func (g *Gate) Authenticate(r *http.Request) (string, error) {
	if username, secret, ok := parseBasic(r.Header.Get("Authorization")); ok {
		if g.store.Verify(username, secret) {
			return username, nil
		}
	}
	if user, secret := queryCredentials(r); user != "" && secret != "" {
		if g.store.Verify(user, secret) {
			return user, nil
		}
	}
	return "", ErrUnauthorized
}

// ConnectionIdentity applies the realtime-connection policy, which is
// deliberately softer than Authenticate: a connection with no credentials
// at all is allowed through anonymously (no presence identity), a
// connection with both fields valid is allowed with its username, and
// anything in between, one field supplied or a failed verification, is
// refused.
func (g *Gate) ConnectionIdentity(r *http.Request) (string, bool) {
	user, secret := queryCredentials(r)
	if user == "" && secret == "" {
		return "", true
	}
	if user == "" || secret == "" {
		return "", false
	}
	if !g.store.Verify(user, secret) {
		return "", false
	}
	return user, true
}
