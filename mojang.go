package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultMojangAPI     = "https://api.mojang.com"
	defaultMojangSession = "https://sessionserver.mojang.com"
)

// ErrProfileNotFound is returned when no Minecraft account matches.
var ErrProfileNotFound = errors.New("minecraft profile not found")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,16}$`)

func validUsername(name string) bool {
	return usernamePattern.MatchString(name)
}

// Profile is a Minecraft account. ID is the dashed UUID.
type Profile struct {
	ID   string
	Name string
}

// ProfileLookup resolves Minecraft accounts.
type ProfileLookup interface {
	ProfileByName(ctx context.Context, name string) (*Profile, error)
	ProfileByUUID(ctx context.Context, id string) (*Profile, error)
}

type MojangClient struct {
	apiBase     string
	sessionBase string
	httpClient  *http.Client
	limiter     *rate.Limiter
}

// newMojangClient paces lookups to stay under Mojang's 600 requests per
// 10 minutes.
func newMojangClient(httpClient *http.Client) *MojangClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &MojangClient{
		apiBase:     defaultMojangAPI,
		sessionBase: defaultMojangSession,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(rate.Every(time.Second), 10),
	}
}

var _ ProfileLookup = (*MojangClient)(nil)

func (c *MojangClient) ProfileByName(ctx context.Context, name string) (*Profile, error) {
	if !validUsername(name) {
		return nil, ErrProfileNotFound
	}
	return c.get(ctx, c.apiBase+"/users/profiles/minecraft/"+url.PathEscape(name))
}

func (c *MojangClient) ProfileByUUID(ctx context.Context, id string) (*Profile, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid uuid %q: %w", id, err)
	}
	return c.get(ctx, c.sessionBase+"/session/minecraft/profile/"+strings.ReplaceAll(u.String(), "-", ""))
}

func (c *MojangClient) get(ctx context.Context, endpoint string) (*Profile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mojang request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read mojang response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, ErrProfileNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("mojang API error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var wire struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode mojang profile: %w", err)
	}
	id, err := uuid.Parse(wire.ID)
	if err != nil {
		return nil, fmt.Errorf("mojang returned invalid uuid %q: %w", wire.ID, err)
	}
	return &Profile{ID: id.String(), Name: wire.Name}, nil
}
