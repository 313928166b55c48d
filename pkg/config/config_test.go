package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("hiker-bot")
	require.NoError(t, err)

	assert.Equal(t, "hiker-bot", cfg.Server.ServiceName)
	assert.Equal(t, 45, cfg.LLM.TimeoutSeconds)
	assert.Equal(t, 1, cfg.LLM.Retries)
	assert.Equal(t, 5, cfg.LLM.ContextMessages)
	assert.Equal(t, 8, cfg.Routing.TimeoutSeconds)
	assert.Equal(t, 100, cfg.Chat.MaxHistory)
	assert.Equal(t, "firestore", cfg.Store.Backend)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AI_CONTEXT_MESSAGES", "3")
	t.Setenv("MAX_CHAT_HISTORY", "50")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("ADMIN_PHONES", "972500000001, 972500000002")

	cfg, err := Load("hiker-bot")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.LLM.ContextMessages)
	assert.Equal(t, 50, cfg.Chat.MaxHistory)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.True(t, cfg.Admin.IsAdminPhone("972500000001"))
	assert.True(t, cfg.Admin.IsAdminPhone("972500000002"))
	assert.False(t, cfg.Admin.IsAdminPhone("972500000003"))
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{Host: "h", Port: "5432", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", db.DSN())
}

func TestSecretsRequireProject(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.APIKey = "secret://llm-api-key"
	err := resolveSecrets(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOCUMENT_STORE_PROJECT")
}

func TestSecretsNoopWithoutScheme(t *testing.T) {
	cfg := &Config{}
	cfg.LLM.APIKey = "sk-plain"
	require.NoError(t, resolveSecrets(cfg))
	assert.Equal(t, "sk-plain", cfg.LLM.APIKey)
}
