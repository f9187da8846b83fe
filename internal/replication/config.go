package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/Veraticus/hearth/internal/common"
	"github.com/Veraticus/hearth/internal/service"
)

// localDevPort is the conventional CouchDB port; local servers on it are
// always spoken to over plain HTTP.
const localDevPort = "5984"

// StoredConfig is the custom sync configuration the user saved on the device.
type StoredConfig struct {
	URL         string `json:"url"`
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	Enabled     bool   `json:"enabled"`
	ForceEnable bool   `json:"forceEnable,omitempty"`
}

// Env is the build or deployment configuration.
type Env struct {
	// DefaultURL may embed credentials as user:password@host.
	DefaultURL string
	// Disabled is the administrative kill switch.
	Disabled bool
}

// Endpoint is a resolved remote server with credentials split out of the URL.
type Endpoint struct {
	URL      *url.URL
	Username string
	Password string
}

// HasBasicAuth reports whether explicit credentials are configured.
func (e *Endpoint) HasBasicAuth() bool {
	return e.Username != "" || e.Password != ""
}

// Resolution is the outcome of config resolution.
type Resolution struct {
	Endpoint *Endpoint
	Blocked  bool
}

// LoadStoredConfig reads the saved custom configuration, or nil.
func LoadStoredConfig(ctx context.Context, kv service.KeyValueStore) (*StoredConfig, error) {
	raw, ok, err := kv.Get(ctx, service.KeySyncConfig)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var cfg StoredConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: stored sync config: %v", common.ErrInvalidConfig, err)
	}
	return &cfg, nil
}

// SaveStoredConfig persists a custom configuration.
func SaveStoredConfig(ctx context.Context, kv service.KeyValueStore, cfg StoredConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return kv.Set(ctx, service.KeySyncConfig, string(raw))
}

// ResolveConfig picks the endpoint to sync with. A forced-enable stored
// config wins and ignores the kill switch; otherwise an enabled stored
// endpoint beats the environment default, and the kill switch blocks both.
func ResolveConfig(stored *StoredConfig, env Env) (Resolution, error) {
	var (
		raw        string
		user, pass string
	)

	switch {
	case stored != nil && stored.ForceEnable:
		raw, user, pass = stored.URL, stored.Username, stored.Password
		if raw == "" {
			raw = env.DefaultURL
		}
	case env.Disabled:
		return Resolution{Blocked: true}, nil
	case stored != nil && stored.Enabled && stored.URL != "":
		raw, user, pass = stored.URL, stored.Username, stored.Password
	default:
		raw = env.DefaultURL
	}

	if strings.TrimSpace(raw) == "" {
		return Resolution{}, nil
	}

	endpoint, err := parseEndpoint(raw, user, pass)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Endpoint: endpoint}, nil
}

func parseEndpoint(raw, user, pass string) (*Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: sync url %q", common.ErrInvalidConfig, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: sync url scheme %q", common.ErrInvalidConfig, u.Scheme)
	}

	// Explicit credentials beat ones embedded in the URL.
	if user == "" && pass == "" && u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	u.User = nil

	if isLocalDev(u) {
		u.Scheme = "http"
	}
	u.Path = strings.TrimRight(u.Path, "/")

	return &Endpoint{URL: u, Username: user, Password: pass}, nil
}

func isLocalDev(u *url.URL) bool {
	host, port := u.Hostname(), u.Port()
	if port != localDevPort {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

var unsafeDBChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeTenantID makes a tenant id usable in a remote database name.
func SanitizeTenantID(id string) string {
	return strings.ToLower(unsafeDBChars.ReplaceAllString(id, ""))
}

// DatabaseName is the remote database of one tenant collection.
func DatabaseName(tenantID, collection string) string {
	return fmt.Sprintf("hh_%s_%s", SanitizeTenantID(tenantID), collection)
}
