package vaultapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/packetkeeper/packetkeeper/internal/common"
	"github.com/packetkeeper/packetkeeper/internal/keeper/models"
	"github.com/packetkeeper/packetkeeper/internal/keeper/repositories/packets"
	"github.com/packetkeeper/packetkeeper/internal/logging"
)

// HTTPClient talks JSON over HTTP to a hosted vault server. Unknown ids
// map to common.ErrNotFound, auth failures to common.ErrUnauthorized, and
// network errors wrap common.ErrUnavailable so callers can detect an
// unreachable server with errors.Is.
type HTTPClient struct {
	baseURL string
	token   string
	hc      *http.Client
	log     logging.Logger
}

func NewHTTPClient(baseURL, token string, log logging.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

// packetDTO is the wire shape of a packet. The payload travels in its
// stored envelope form, so encrypted packets stay encrypted on the wire.
type packetDTO struct {
	ID              string          `json:"id"`
	CreateRequestID string          `json:"createRequestId"`
	OwnerID         string          `json:"ownerId"`
	CollectionID    string          `json:"collectionId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	Tags            []string        `json:"tags,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func toPacketDTO(p *models.Packet) (*packetDTO, error) {
	dto := &packetDTO{
		ID:              p.ID,
		CreateRequestID: p.CreateRequestID,
		OwnerID:         p.OwnerID,
		CollectionID:    p.CollectionID,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
		Tags:            p.Tags,
	}
	if p.Payload != nil {
		raw, err := models.MarshalPayload(p.Payload)
		if err != nil {
			return nil, err
		}
		dto.Payload = raw
	}
	return dto, nil
}

func (d *packetDTO) toModel() (*models.Packet, error) {
	p := &models.Packet{
		ID:              d.ID,
		CreateRequestID: d.CreateRequestID,
		OwnerID:         d.OwnerID,
		CollectionID:    d.CollectionID,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		Tags:            d.Tags,
	}
	if len(d.Payload) > 0 {
		payload, err := models.UnmarshalPayload(d.Payload)
		if err != nil {
			return nil, err
		}
		p.Payload = payload
	}
	return p, nil
}

type apiKeyDTO struct {
	ID        string          `json:"id"`
	Provider  string          `json:"provider"`
	OwnerID   string          `json:"ownerId"`
	Secret    json.RawMessage `json:"secret,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func toAPIKeyDTO(k *models.APIKey) (*apiKeyDTO, error) {
	dto := &apiKeyDTO{
		ID:        k.ID,
		Provider:  k.Provider,
		OwnerID:   k.OwnerID,
		CreatedAt: k.CreatedAt,
		UpdatedAt: k.UpdatedAt,
	}
	if k.Secret != nil {
		raw, err := models.MarshalPayload(k.Secret)
		if err != nil {
			return nil, err
		}
		dto.Secret = raw
	}
	return dto, nil
}

func (d *apiKeyDTO) toModel() (*models.APIKey, error) {
	k := &models.APIKey{
		ID:        d.ID,
		Provider:  d.Provider,
		OwnerID:   d.OwnerID,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if len(d.Secret) > 0 {
		secret, err := models.UnmarshalPayload(d.Secret)
		if err != nil {
			return nil, err
		}
		k.Secret = secret
	}
	return k, nil
}

func (c *HTTPClient) CreatePacket(ctx context.Context, p *models.Packet) (*models.Packet, error) {
	dto, err := toPacketDTO(p)
	if err != nil {
		return nil, err
	}
	var out packetDTO
	if err := c.do(ctx, http.MethodPost, "/packets", dto, &out); err != nil {
		return nil, err
	}
	return out.toModel()
}

type packetUpdateDTO struct {
	RequestID string          `json:"requestId"`
	Tags      []string        `json:"tags,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (c *HTTPClient) UpdatePacket(ctx context.Context, requestID string, upd models.PacketUpdate) (*models.Packet, error) {
	body := packetUpdateDTO{RequestID: requestID, Tags: upd.Tags}
	if upd.Payload != nil {
		raw, err := models.MarshalPayload(upd.Payload)
		if err != nil {
			return nil, err
		}
		body.Payload = raw
	}
	var out packetDTO
	if err := c.do(ctx, http.MethodPut, "/packets/"+url.PathEscape(upd.ID), body, &out); err != nil {
		return nil, err
	}
	return out.toModel()
}

func (c *HTTPClient) GetPacket(ctx context.Context, id string) (*models.Packet, error) {
	var out packetDTO
	if err := c.do(ctx, http.MethodGet, "/packets/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.toModel()
}

func (c *HTTPClient) ListPackets(ctx context.Context, q packets.Query) ([]*models.Packet, error) {
	vals := url.Values{}
	if q.OwnerID != "" {
		vals.Set("owner", q.OwnerID)
	}
	if len(q.Tags) > 0 {
		vals.Set("tags", strings.Join(q.Tags, ","))
	}
	if !q.From.IsZero() {
		vals.Set("from", q.From.UTC().Format(time.RFC3339Nano))
	}
	if !q.To.IsZero() {
		vals.Set("to", q.To.UTC().Format(time.RFC3339Nano))
	}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		vals.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Sort != "" {
		vals.Set("sort", string(q.Sort))
	}

	path := "/packets"
	if len(vals) > 0 {
		path += "?" + vals.Encode()
	}

	var out []packetDTO
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	result := make([]*models.Packet, 0, len(out))
	for i := range out {
		p, err := out[i].toModel()
		if err != nil {
			c.log.Warn(ctx, "skipping undecodable packet from server", "packet_id", out[i].ID, "error", err)
			continue
		}
		result = append(result, p)
	}
	return result, nil
}

func (c *HTTPClient) DeletePacket(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/packets/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) SaveAPIKey(ctx context.Context, k *models.APIKey) (*models.APIKey, error) {
	dto, err := toAPIKeyDTO(k)
	if err != nil {
		return nil, err
	}
	var out apiKeyDTO
	if err := c.do(ctx, http.MethodPut, "/apikeys", dto, &out); err != nil {
		return nil, err
	}
	return out.toModel()
}

func (c *HTTPClient) GetAPIKey(ctx context.Context, provider, ownerID string) (*models.APIKey, error) {
	var out apiKeyDTO
	path := "/apikeys/" + url.PathEscape(provider) + "?owner=" + url.QueryEscape(ownerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.toModel()
}

func (c *HTTPClient) ListAPIKeys(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	var out []apiKeyDTO
	if err := c.do(ctx, http.MethodGet, "/apikeys?owner="+url.QueryEscape(ownerID), nil, &out); err != nil {
		return nil, err
	}
	result := make([]*models.APIKey, 0, len(out))
	for i := range out {
		k, err := out[i].toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, nil
}

func (c *HTTPClient) DeleteAPIKey(ctx context.Context, provider, ownerID string) error {
	path := "/apikeys/" + url.PathEscape(provider) + "?owner=" + url.QueryEscape(ownerID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, nil)
}

// do runs one request against the server, encoding body as JSON when
// present and decoding the response into out when non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return common.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return common.ErrUnauthorized
	case resp.StatusCode >= 300:
		return fmt.Errorf("vault request failed: %s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ Client = (*HTTPClient)(nil)
