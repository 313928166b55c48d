package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// secretPrefix marks config values that should be resolved through GCP Secret
// Manager, e.g. LLM_API_KEY=secret://llm-api-key.
const secretPrefix = "secret://"

// resolveSecrets replaces secret:// references in credential fields with the
// latest secret version from the configured project. A no-op when no field
// uses the scheme.
func resolveSecrets(cfg *Config) error {
	fields := []*string{
		&cfg.LLM.APIKey,
		&cfg.Chat.ProviderToken,
		&cfg.Chat.WebhookAppSecret,
		&cfg.Admin.Token,
		&cfg.Database.Password,
		&cfg.Redis.Password,
		&cfg.Twilio.AuthToken,
	}

	needed := false
	for _, f := range fields {
		if strings.HasPrefix(*f, secretPrefix) {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}

	if cfg.Store.Project == "" {
		return fmt.Errorf("secret:// values require DOCUMENT_STORE_PROJECT")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("secret manager client: %w", err)
	}
	defer client.Close()

	for _, f := range fields {
		if !strings.HasPrefix(*f, secretPrefix) {
			continue
		}
		name := strings.TrimPrefix(*f, secretPrefix)
		resp, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
			Name: fmt.Sprintf("projects/%s/secrets/%s/versions/latest", cfg.Store.Project, name),
		})
		if err != nil {
			return fmt.Errorf("access secret %s: %w", name, err)
		}
		*f = string(resp.GetPayload().GetData())
	}

	return nil
}
