// $ go test -v -count=1 ./pkg/config/...

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
clusters:
  - key: A
    uri: ${ES_URI_A:-http://localhost:9200}
    default: true
  - key: B
    uri: ${ES_URI_B}
indices:
  content: [govuk, government]
boosting:
  format:
    service_manual_guide: 0.3
spelling:
  ignore: [gov]
`

func TestParse(t *testing.T) {
	t.Setenv("ES_URI_B", "http://b:9200")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Len(t, cfg.Clusters, 2)
	assert.Equal(t, "http://localhost:9200", cfg.Clusters[0].URI)
	assert.Equal(t, "http://b:9200", cfg.Clusters[1].URI)
	assert.True(t, cfg.Clusters[0].Default)
	assert.Equal(t, []string{"govuk", "government"}, cfg.Indices.Content)
	assert.Equal(t, 0.3, cfg.Boosting["format"]["service_manual_guide"])
	assert.Equal(t, []string{"gov"}, cfg.Spelling.Ignore)
}

func TestApplyDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Elasticsearch.TimeoutSec)
	assert.Equal(t, 3, cfg.Elasticsearch.MaxRetries)
	assert.Equal(t, 60, cfg.Worker.LockDelaySec)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	assert.Equal(t, 0.001, cfg.Elasticsearch.PopularityOffset)
	assert.Equal(t, "metasearch", cfg.Indices.Metasearch)
	assert.Equal(t, "specialist-finder", cfg.Indices.SpecialistFinder)
	assert.Equal(t, "page-traffic", cfg.Indices.PageTraffic)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "5s", cfg.Elasticsearch.Timeout().String())
	assert.Equal(t, "1m0s", cfg.Worker.LockDelay().String())
	assert.Equal(t, "searchindex-finders", cfg.Nats.FinderDurable)
	assert.Equal(t, 5, cfg.Publishing.MaxDeliveries)
	assert.Equal(t, "30s", cfg.Publishing.RetryDelay().String())
	assert.Equal(t, "@daily", cfg.Worker.MetadataCron)
}

func TestValidate(t *testing.T) {
	_, err := Parse([]byte("indices:\n  content: [govuk]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("clusters:\n  - key: A\n  - key: A\nindices:\n  content: [govuk]\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("clusters:\n  - key: A\n"))
	assert.ErrorContains(t, err, "indices.content")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.yaml"), []byte(sample), 0o600))
	t.Setenv("CONFIG_DIR", dir)

	cfg, err := Load("test")
	require.NoError(t, err)
	assert.Equal(t, "A", cfg.Clusters[0].Key)

	_, err = Load("missing")
	assert.Error(t, err)

	t.Setenv("CONFIG_DIR", "")
	_, err = Load("test")
	assert.ErrorContains(t, err, filepath.Join("config", "test.yaml"))
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SET_VAR", "x")
	out := expandEnvVars([]byte("${SET_VAR} ${UNSET_VAR_123:-d} ${UNSET_VAR_123}"))
	assert.Equal(t, "x d ", string(out))
}
