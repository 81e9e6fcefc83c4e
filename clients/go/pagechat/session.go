package pagechat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/eldtechnologies/pagechat/internal/crypto"
	"github.com/eldtechnologies/pagechat/internal/feed"
)

const (
	agentFile = "agent.json"
	keyFile   = "private.key"
)

// Credentials identify a registered agent.
type Credentials struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"-"` // stored separately in private.key
}

// DefaultConfigDir returns $PAGECHAT_CONFIG or ~/.pagechat.
func DefaultConfigDir() string {
	if dir := os.Getenv("PAGECHAT_CONFIG"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pagechat"
	}
	return filepath.Join(home, ".pagechat")
}

// Session implements feed.Identity. A session starts anonymous unless
// credentials were saved in its config directory; SignIn creates a
// keypair, registers it and persists it.
type Session struct {
	client    *Client
	configDir string
	name      string

	mu    sync.Mutex
	creds *Credentials
}

// NewSession loads saved credentials from configDir if there are any.
// name is the display name used on the first registration.
func NewSession(client *Client, configDir, name string) (*Session, error) {
	s := &Session{client: client, configDir: configDir, name: name}

	creds, err := LoadCredentials(configDir)
	switch {
	case err == nil:
		s.creds = creds
		client.SetCredentials(creds)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	return s, nil
}

// Current returns the signed-in actor, or nil when anonymous.
func (s *Session) Current() *feed.Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil
	}
	return &feed.Actor{ID: s.creds.ID, Name: s.creds.Name}
}

// SignIn registers a fresh keypair with the server. Rejections by the
// server are reported in the result; err is set only when the server
// could not be asked or the credentials could not be saved.
func (s *Session) SignIn(ctx context.Context) (feed.SignInResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.creds != nil {
		return feed.SignInResult{Status: http.StatusOK}, nil
	}

	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		return feed.SignInResult{}, err
	}

	resp, err := s.client.Register(ctx, pub, s.name)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return feed.SignInResult{Status: apiErr.Status, Message: apiErr.Message}, nil
		}
		return feed.SignInResult{}, err
	}

	creds := &Credentials{ID: resp.ID, Name: s.name, PublicKey: pub, PrivateKey: priv}
	if s.configDir != "" {
		if err := SaveCredentials(s.configDir, creds); err != nil {
			return feed.SignInResult{}, err
		}
	}
	s.creds = creds
	s.client.SetCredentials(creds)

	return feed.SignInResult{Status: http.StatusOK}, nil
}

// SignOut forgets the current identity and removes the saved files.
func (s *Session) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil
	s.client.SetCredentials(nil)
	if s.configDir == "" {
		return nil
	}
	for _, name := range []string{agentFile, keyFile} {
		if err := os.Remove(filepath.Join(s.configDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// LoadCredentials reads agent.json and private.key from dir.
func LoadCredentials(dir string) (*Credentials, error) {
	data, err := os.ReadFile(filepath.Join(dir, agentFile))
	if err != nil {
		return nil, err
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	key, err := os.ReadFile(filepath.Join(dir, keyFile))
	if err != nil {
		return nil, err
	}
	creds.PrivateKey = string(key)
	if _, err := crypto.ParsePrivateKey(creds.PrivateKey); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SaveCredentials writes the credentials to dir. The private key file is
// readable by the owner only.
func SaveCredentials(dir string, creds *Credentials) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, agentFile), data, 0600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, keyFile), []byte(creds.PrivateKey), 0600)
}
