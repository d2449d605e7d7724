package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/inquest-dev/inquest/internal/config"
	"github.com/inquest-dev/inquest/internal/logging"
)

// Credentials are operator-scoped secrets for one instance. They feed the
// invoker's secret substitution pass and are never shown to the model.
type Credentials struct {
	Username string
	Password string
	Token    string
	Extra    map[string]string
}

// Map flattens credentials for template substitution.
func (c *Credentials) Map() map[string]string {
	out := make(map[string]string, len(c.Extra)+3)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.Username != "" {
		out["username"] = c.Username
	}
	if c.Password != "" {
		out["password"] = c.Password
	}
	if c.Token != "" {
		out["token"] = c.Token
	}
	return out
}

// CredentialSource fetches credentials for an instance. Implementations
// may hit secret stores; the store wraps them with caching and
// deduplication.
type CredentialSource interface {
	Fetch(ctx context.Context, inst *config.InstanceConfig) (*Credentials, error)
}

// ConfigCredentialSource reads credentials straight from the instance's
// config block. Known keys map to the named fields, the rest land in
// Extra.
type ConfigCredentialSource struct{}

func (ConfigCredentialSource) Fetch(_ context.Context, inst *config.InstanceConfig) (*Credentials, error) {
	creds := &Credentials{Extra: make(map[string]string)}
	for k, v := range inst.Config {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch k {
		case "username":
			creds.Username = s
		case "password":
			creds.Password = s
		case "token":
			creds.Token = s
		default:
			creds.Extra[k] = s
		}
	}
	return creds, nil
}

const DefaultCredentialTTL = 15 * time.Minute

// CredentialStore caches fetched credentials with a TTL and collapses
// concurrent fetches for the same instance into one upstream call.
type CredentialStore struct {
	source CredentialSource
	cache  *expirable.LRU[string, *Credentials]
	group  singleflight.Group
	logger *logging.Logger
}

// NewCredentialStore wraps a source with an expirable cache. A zero ttl
// uses DefaultCredentialTTL.
func NewCredentialStore(source CredentialSource, ttl time.Duration) *CredentialStore {
	if ttl <= 0 {
		ttl = DefaultCredentialTTL
	}
	return &CredentialStore{
		source: source,
		cache:  expirable.NewLRU[string, *Credentials](128, nil, ttl),
		logger: logging.GetLogger("instance.credentials"),
	}
}

// Get returns credentials for the instance, fetching on a cache miss.
func (s *CredentialStore) Get(ctx context.Context, inst *config.InstanceConfig) (*Credentials, error) {
	id := inst.EffectiveID()
	if creds, ok := s.cache.Get(id); ok {
		return creds, nil
	}

	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		if creds, ok := s.cache.Get(id); ok {
			return creds, nil
		}
		creds, err := s.source.Fetch(ctx, inst)
		if err != nil {
			return nil, fmt.Errorf("fetching credentials for %s: %w", id, err)
		}
		s.cache.Add(id, creds)
		s.logger.DebugWithFields("credentials cached", logging.Field("instance", id))
		return creds, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Credentials), nil
}

// Invalidate drops the cached credentials for an instance, forcing a
// refetch on next use.
func (s *CredentialStore) Invalidate(instanceID string) {
	s.cache.Remove(instanceID)
}
