// Package creds implements the credential provider for the shared streaming
// identity: a JSON file next to the process holding the access/refresh token
// pair, refreshed through the service's OAuth token endpoint. The file is
// also written by the external OAuth web flow, so the store watches it for
// out-of-band updates.
package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/soundcord/soundcord/internal/core"
)

const credentialsFile = "credentials.json"

// expirySlack treats a token as expired slightly early so a session never
// starts with a token about to die mid-handshake.
const expirySlack = time.Minute

var ErrNotLinked = errors.New("no account linked, complete the OAuth flow first")

type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (c Credentials) Expired() bool {
	return time.Now().Add(expirySlack).After(c.ExpiresAt)
}

// Store implements core.CredentialProvider on top of the credentials file.
type Store struct {
	path  string
	oauth *oauth2.Config

	mu     sync.Mutex
	cached Credentials
	loaded bool
}

func NewStore(dataDir string, oauth *oauth2.Config) *Store {
	return &Store{
		path:  filepath.Join(dataDir, credentialsFile),
		oauth: oauth,
	}
}

// CurrentToken returns a valid access token, refreshing and rewriting the
// credentials file when the stored one is expired.
func (s *Store) CurrentToken(ctx context.Context) (core.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		creds, err := s.load()
		if err != nil {
			return core.Token{}, err
		}
		s.cached = creds
		s.loaded = true
	}

	if s.cached.Expired() {
		refreshed, err := s.refresh(ctx, s.cached)
		if err != nil {
			return core.Token{}, fmt.Errorf("token refresh: %w", err)
		}
		s.cached = refreshed
		if err := s.save(refreshed); err != nil {
			return core.Token{}, err
		}
		log.Info().Str("module", "creds").Time("expires_at", refreshed.ExpiresAt).Msg("token refreshed")
	}

	return core.Token{AccessToken: s.cached.AccessToken, ExpiresAt: s.cached.ExpiresAt}, nil
}

func (s *Store) load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, ErrNotLinked
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) save(creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (s *Store) refresh(ctx context.Context, creds Credentials) (Credentials, error) {
	src := s.oauth.TokenSource(ctx, &oauth2.Token{
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Expiry:       creds.ExpiresAt,
	})
	tok, err := src.Token()
	if err != nil {
		return Credentials{}, err
	}

	out := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	// Some providers omit the refresh token on renewal; keep the old one.
	if out.RefreshToken == "" {
		out.RefreshToken = creds.RefreshToken
	}
	return out, nil
}

// Watch invalidates the cache whenever the credentials file is rewritten by
// the OAuth web flow. Blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and the web flow replace the file, which
	// would silently detach a watch on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != s.path || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			s.mu.Lock()
			s.loaded = false
			s.mu.Unlock()
			log.Info().Str("module", "creds").Msg("credentials file changed, cache invalidated")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Str("module", "creds").Msg("watch error")
		}
	}
}
