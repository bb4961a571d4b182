package keyring

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// KeyService is the HTTP client for the external key-management endpoint.
// It implements Resolver; a 404 on fetch is the normal "no key yet" signal
// and triggers key creation rather than an error.
type KeyService struct {
	baseURL string
	token   string
	hc      *http.Client
	log     logging.Logger
}

func NewKeyService(baseURL, token string, log logging.Logger) *KeyService {
	return &KeyService{
		baseURL: baseURL,
		token:   token,
		hc:      &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type keyResponse struct {
	EncryptionKey struct {
		Key string `json:"key"`
	} `json:"encryption_key"`
}

// ResolveKey fetches the key for ref, creating one when none exists yet.
func (s *KeyService) ResolveKey(ctx context.Context, ref KeyRef) ([]byte, error) {
	if err := s.checkToken(); err != nil {
		return nil, err
	}

	key, status, err := s.fetchKey(ctx, ref)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		s.log.Info(ctx, "no encryption key yet, creating one", "owner", ref.OwnerID)
		return s.CreateKey(ctx, ref)
	}
	return key, nil
}

func (s *KeyService) fetchKey(ctx context.Context, ref KeyRef) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.keyURL(ref), nil)
	if err != nil {
		return nil, 0, err
	}
	s.authorize(req)

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, http.StatusNotFound, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, 0, common.ErrUnauthorized
	case resp.StatusCode >= 300:
		return nil, 0, fmt.Errorf("key fetch failed: %s", resp.Status)
	}

	key, err := decodeKey(resp)
	return key, resp.StatusCode, err
}

// CreateKey asks the endpoint to mint a key for ref and returns it.
func (s *KeyService) CreateKey(ctx context.Context, ref KeyRef) ([]byte, error) {
	if err := s.checkToken(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.keyURL(ref), nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, common.ErrUnauthorized
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("key creation failed: %s", resp.Status)
	}

	return decodeKey(resp)
}

// DeleteKey removes the key for ref on the endpoint.
func (s *KeyService) DeleteKey(ctx context.Context, ref KeyRef) error {
	if err := s.checkToken(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.keyURL(ref), nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return common.ErrUnauthorized
	case resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound:
		return fmt.Errorf("key deletion failed: %s", resp.Status)
	}
	return nil
}

func (s *KeyService) keyURL(ref KeyRef) string {
	u := s.baseURL + "/encryption/key"
	if ref.Shared() {
		u += "?" + url.Values{"workspace_id": {ref.WorkspaceID}}.Encode()
	}
	return u
}

func (s *KeyService) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("Content-Type", "application/json")
}

// checkToken rejects an already-expired bearer token locally instead of
// burning a round trip on a guaranteed 401. Tokens that do not parse as
// JWTs are passed through and left to the server.
func (s *KeyService) checkToken() error {
	if s.token == "" {
		return fmt.Errorf("%w: empty access token", common.ErrUnauthorized)
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(s.token, &claims); err != nil {
		return nil
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
		return fmt.Errorf("%w: access token expired", common.ErrUnauthorized)
	}
	return nil
}

func decodeKey(resp *http.Response) ([]byte, error) {
	var kr keyResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return nil, fmt.Errorf("bad key response: %w", err)
	}
	key, err := base64.StdEncoding.DecodeString(kr.EncryptionKey.Key)
	if err != nil {
		return nil, fmt.Errorf("bad key encoding: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("empty key in response")
	}
	return key, nil
}
