package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unkn0wn-root/asyncache"
	"gopkg.in/yaml.v3"
)

const doc = `
resources:
  userProfile:
    retry_after: 30s
    stale_after: 5m
    expire_after: never
    persist: false
    dependencies:
      - key: currentPage
        stale_on_change: true
      - key: filter
        allow_blank: true
  users:
    stale_after: 1m
  feed:
    retry_after: 5s
    persist: true
`

func fetchNothing(context.Context, asyncache.FetchArgs) (string, error) { return "", nil }

func TestLoadAndApplyResource(t *testing.T) {
	c, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	o := asyncache.ResourceOptions[string]{Name: "userProfile", Fetch: fetchNothing}
	require.True(t, ApplyResource(c, &o))

	assert.Equal(t, 30*time.Second, o.RetryAfter)
	assert.Equal(t, 5*time.Minute, o.StaleAfter)
	assert.Equal(t, asyncache.Never, o.ExpireAfter)
	assert.True(t, o.DisablePersist)
	assert.Equal(t, []asyncache.DependencyKey{
		{Key: "currentPage", StaleOnChange: true},
		{Key: "filter", AllowBlank: true},
	}, o.Dependencies)
}

func TestApplyLeavesUnsetFields(t *testing.T) {
	c, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	o := asyncache.ResourcesOptions[int]{Name: "users"}
	o.RetryAfter = time.Hour
	ok, err := ApplyResources(c, &o)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, time.Hour, o.RetryAfter)
	assert.Equal(t, time.Minute, o.StaleAfter)
	assert.False(t, o.DisablePersist)
}

func TestApplyCollection(t *testing.T) {
	c, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	o := asyncache.CollectionOptions[int, []int]{Name: "feed"}
	require.True(t, ApplyCollection(c, &o))
	assert.Equal(t, 5*time.Second, o.RetryAfter)
	assert.True(t, o.Persist)

	missing := asyncache.CollectionOptions[int, []int]{Name: "other"}
	assert.False(t, ApplyCollection(c, &missing))
}

func TestKeyedRejectsDependencies(t *testing.T) {
	c, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	o := asyncache.ResourcesOptions[int]{Name: "userProfile"}
	_, err = ApplyResources(c, &o)
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "resources:\n  a:\n    ttl: 5s\n",
		"bad duration":    "resources:\n  a:\n    stale_after: soon\n",
		"negative":        "resources:\n  a:\n    stale_after: -5s\n",
		"missing dep key": "resources:\n  a:\n    dependencies:\n      - stale_on_change: true\n",
		"duplicate dep":   "resources:\n  a:\n    dependencies:\n      - key: x\n      - key: x\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(in))
			assert.Error(t, err)
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	c, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	_, ok := c.Policy("anything")
	assert.False(t, ok)
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(Policy{StaleAfter: Duration(90 * time.Second), ExpireAfter: Duration(asyncache.Never)})
	require.NoError(t, err)
	assert.Contains(t, string(out), "stale_after: 1m30s")
	assert.Contains(t, string(out), "expire_after: never")
}
