package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: s3cret
recognition:
  base_url: http://recognition:8000
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxPhotoBytes)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "nats", cfg.Indexing.Mode)
	assert.Equal(t, 4, cfg.Indexing.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Indexing.StaleAfter)
	assert.Equal(t, 15*time.Second, cfg.Recognition.Timeout)
	assert.Equal(t, "absens-photos", cfg.MinIO.Bucket)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
auth:
  jwt_secret: from-file
recognition:
  base_url: http://recognition:8000
  timeout: 20s
indexing:
  mode: nats
`)
	t.Setenv("ABSENS_SERVER_PORT", "9100")
	t.Setenv("ABSENS_JWT_SECRET", "from-env")
	t.Setenv("ABSENS_INDEX_MODE", "local")
	t.Setenv("ABSENS_INDEX_WORKERS", "2")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "local", cfg.Indexing.Mode)
	assert.Equal(t, 2, cfg.Indexing.Workers)
	assert.Equal(t, 20*time.Second, cfg.Recognition.Timeout)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing secret":     "recognition:\n  base_url: http://r\n",
		"missing recognizer": "auth:\n  jwt_secret: x\n",
		"bad driver":         "auth:\n  jwt_secret: x\nrecognition:\n  base_url: http://r\nstore:\n  driver: mongo\n",
		"bad index mode":     "auth:\n  jwt_secret: x\nrecognition:\n  base_url: http://r\nindexing:\n  mode: kafka\n",
		"memory with nats":   "auth:\n  jwt_secret: x\nrecognition:\n  base_url: http://r\nstore:\n  driver: memory\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "absens", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5432/absens?sslmode=disable", d.DSN())
}
