package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Provider and model configuration. "gemini" and "googleai" are the
	// same backend; both authenticate with GEMINI_API_KEY.
	switch c.Provider {
	case ProviderGemini, ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required\n"+
				"Get your API key at: https://ai.google.dev/gemini-api/docs/api-key",
				ErrMissingAPIKey)
		}
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrInvalidOllamaHost)
		}
	default:
		return fmt.Errorf("%w: %q, must be %q, %q or %q",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderGoogleAI, ProviderOllama)
	}

	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	// Retrieval defaults
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: must be between 0.0 and 1.0, got %.2f",
			ErrInvalidThreshold, c.SimilarityThreshold)
	}
	if c.TopK <= 0 || c.TopK > 50 {
		return fmt.Errorf("top_k must be between 1 and 50, got %d", c.TopK)
	}

	// PostgreSQL configuration
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "openkb_dev_password" {
		slog.Warn("Using default development password for PostgreSQL",
			"warning", "Change postgres_password in config.yaml for production deployments")
	}

	// Modern SSL modes only - deprecated allow/prefer are MITM vulnerable.
	// Reference: https://www.postgresql.org/docs/current/libpq-ssl.html
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateServe performs additional checks required only by the HTTP server:
// the upload-link signing secret must be present and strong, and the upload
// directory must be set.
func (c *Config) ValidateServe() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.UploadSecret == "" {
		return fmt.Errorf("%w: set OPENKB_UPLOAD_SECRET (32+ random bytes)", ErrMissingUploadSecret)
	}
	if len(c.UploadSecret) < MinUploadSecretLen {
		return fmt.Errorf("%w: must be at least %d characters, got %d",
			ErrInvalidUploadSecret, MinUploadSecretLen, len(c.UploadSecret))
	}
	if c.UploadDir == "" {
		return fmt.Errorf("%w: upload_dir cannot be empty", ErrInvalidUploadDir)
	}
	if c.UploadLinkTTLSec <= 0 {
		return fmt.Errorf("upload_link_ttl_sec must be positive, got %d", c.UploadLinkTTLSec)
	}
	return nil
}
