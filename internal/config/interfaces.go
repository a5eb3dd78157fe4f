package config

import "context"

// SecretProvider abstracts the retrieval of secrets referenced by
// _SECRET_REF variables. Implementations: EnvVarProvider (local development)
// and FileProvider (mounted secret volumes).
type SecretProvider interface {
	// GetParametersBatch resolves multiple references at once. Returns a map
	// of reference -> plaintext value for all successfully resolved entries;
	// unresolvable references are omitted.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
