package instance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquest-dev/inquest/internal/config"
)

func testInstances() []config.InstanceConfig {
	return []config.InstanceConfig{
		{
			ID:          "prod-es",
			Name:        "prod-es",
			Type:        "elasticsearch",
			Environment: "production",
			Tags:        []string{"search", "logs"},
			Enabled:     true,
		},
		{
			ID:          "staging-es",
			Name:        "staging-es",
			Type:        "elasticsearch",
			Environment: "staging",
			Tags:        []string{"search"},
			Enabled:     true,
		},
		{
			ID:          "main-pg",
			Name:        "main-pg",
			Type:        "postgres",
			Environment: "production",
			Enabled:     true,
		},
		{
			ID:      "old-es",
			Name:    "old-es",
			Type:    "elasticsearch",
			Enabled: false,
		},
	}
}

func TestResolveExplicitID(t *testing.T) {
	r := NewResolver(testInstances())

	inst, err := r.Resolve(Query{InstanceID: "staging-es"})
	require.NoError(t, err)
	assert.Equal(t, "staging-es", inst.Name)

	// Disabled instances never resolve, even by explicit id.
	_, err = r.Resolve(Query{InstanceID: "old-es"})
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.NotEmpty(t, resErr.Remediation)
}

func TestResolveExplicitName(t *testing.T) {
	r := NewResolver(testInstances())
	inst, err := r.Resolve(Query{InstanceName: "MAIN-PG"})
	require.NoError(t, err)
	assert.Equal(t, "main-pg", inst.ID)
}

func TestResolveKeywordMatch(t *testing.T) {
	r := NewResolver(testInstances())

	inst, err := r.Resolve(Query{
		Request: "check health of staging-es cluster",
		Type:    "elasticsearch",
	})
	require.NoError(t, err)
	assert.Equal(t, "staging-es", inst.ID)

	// Environment keyword resolves when it picks a unique instance.
	inst, err = r.Resolve(Query{
		Request: "why is search slow in staging?",
		Type:    "elasticsearch",
	})
	require.NoError(t, err)
	assert.Equal(t, "staging-es", inst.ID)
}

func TestResolveKeywordAmbiguity(t *testing.T) {
	r := NewResolver(testInstances())

	// "search" tags both elasticsearch instances equally.
	_, err := r.Resolve(Query{Request: "search is broken", Type: "elasticsearch"})
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Reason, "multiple instances")
	assert.Contains(t, resErr.Remediation[0], "instance_id")
}

func TestResolvePreference(t *testing.T) {
	r := NewResolver(testInstances())

	// staging-es is not the first configured instance, so a successful
	// resolve can only come from the recorded preference.
	r.RecordPreference("alice", "elasticsearch", "staging-es")
	inst, err := r.Resolve(Query{
		Request: "anything unrelated",
		Type:    "elasticsearch",
		Caller:  "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "staging-es", inst.ID)
}

func TestResolveFirstOfSingleType(t *testing.T) {
	r := NewResolver(testInstances())

	// Exactly one enabled postgres instance exists.
	inst, err := r.Resolve(Query{Request: "is the database up", Type: "postgres"})
	require.NoError(t, err)
	assert.Equal(t, "main-pg", inst.ID)

	// Two enabled elasticsearch instances, one type in play: the first
	// configured one wins.
	inst, err = r.Resolve(Query{Request: "anything unrelated", Type: "elasticsearch"})
	require.NoError(t, err)
	assert.Equal(t, "prod-es", inst.ID)

	// Several service types and no type hint: nothing to pick from.
	_, err = r.Resolve(Query{Request: "anything unrelated"})
	require.Error(t, err)
}

func TestResolveSingleTypeWithoutHint(t *testing.T) {
	// All configured instances share one type, so an unhinted request
	// still resolves to the first enabled one.
	r := NewResolver([]config.InstanceConfig{
		{ID: "prod-es", Name: "prod-es", Type: "elasticsearch", Environment: "production", Enabled: true},
		{ID: "staging-es", Name: "staging-es", Type: "elasticsearch", Environment: "staging", Enabled: true},
	})

	inst, err := r.Resolve(Query{Request: "anything unrelated"})
	require.NoError(t, err)
	assert.Equal(t, "prod-es", inst.ID)
}

func TestResolveMissListsInstances(t *testing.T) {
	r := NewResolver(testInstances())
	_, err := r.Resolve(Query{Request: "nothing matches here", Type: "redis"})
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, err.Error(), "could not resolve instance")
	assert.Contains(t, err.Error(), "instance_id")
}

func TestTokenize(t *testing.T) {
	tokens := tokenize("Check health of staging-es, please!")
	assert.Equal(t, []string{"check", "health", "of", "staging-es", "please"}, tokens)
}

type countingSource struct {
	calls atomic.Int32
	err   error
}

func (s *countingSource) Fetch(_ context.Context, inst *config.InstanceConfig) (*Credentials, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &Credentials{Username: "svc-" + inst.EffectiveID()}, nil
}

func TestCredentialStoreCachesAndDedupes(t *testing.T) {
	source := &countingSource{}
	store := NewCredentialStore(source, time.Minute)
	inst := &config.InstanceConfig{ID: "prod-es", Enabled: true}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := store.Get(context.Background(), inst)
			assert.NoError(t, err)
			assert.Equal(t, "svc-prod-es", creds.Username)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, source.calls.Load(), int32(2), "concurrent fetches collapse")

	before := source.calls.Load()
	_, err := store.Get(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, before, source.calls.Load(), "second call served from cache")

	store.Invalidate("prod-es")
	_, err = store.Get(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, before+1, source.calls.Load())
}

func TestCredentialStoreError(t *testing.T) {
	source := &countingSource{err: errors.New("vault unreachable")}
	store := NewCredentialStore(source, 0)

	_, err := store.Get(context.Background(), &config.InstanceConfig{ID: "x", Enabled: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault unreachable")
}

func TestConfigCredentialSource(t *testing.T) {
	inst := &config.InstanceConfig{
		ID: "prod-es",
		Config: map[string]interface{}{
			"username": "elastic",
			"password": "hunter2",
			"endpoint": "https://es.internal:9200",
			"port":     9200,
		},
	}

	creds, err := ConfigCredentialSource{}.Fetch(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, "elastic", creds.Username)
	assert.Equal(t, "hunter2", creds.Password)
	assert.Equal(t, "https://es.internal:9200", creds.Extra["endpoint"])
	_, hasPort := creds.Extra["port"]
	assert.False(t, hasPort, "non-string config values are skipped")

	m := creds.Map()
	assert.Equal(t, "elastic", m["username"])
	assert.Equal(t, "https://es.internal:9200", m["endpoint"])
}
