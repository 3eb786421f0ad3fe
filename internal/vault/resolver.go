package vault

// Credentials resolves a provider's API key at call time.
type Credentials interface {
	Lookup(provider string) string
}

// Resolver prefers keys saved through the settings API and falls back to
// keys from the environment.
type Resolver struct {
	vault *Vault
	env   map[string]string
}

// NewResolver combines v (may be nil) with environment-provided keys.
func NewResolver(v *Vault, env map[string]string) *Resolver {
	copied := make(map[string]string, len(env))
	for k, val := range env {
		if val != "" {
			copied[normalize(k)] = val
		}
	}
	return &Resolver{vault: v, env: copied}
}

// Lookup returns the key for provider or "" when it is not configured.
func (r *Resolver) Lookup(provider string) string {
	if r == nil {
		return ""
	}
	if r.vault != nil {
		if key, ok := r.vault.Get(provider); ok {
			return key
		}
	}
	return r.env[normalize(provider)]
}

// Configured reports, per known provider, whether a key is available.
func (r *Resolver) Configured() map[string]bool {
	out := make(map[string]bool, len(Providers))
	for _, p := range Providers {
		out[p] = r.Lookup(p) != ""
	}
	return out
}

// Vault exposes the underlying store for writes.
func (r *Resolver) Vault() *Vault {
	if r == nil {
		return nil
	}
	return r.vault
}

// Static is a fixed credential set, handy when wiring adapters in tests.
type Static map[string]string

func (s Static) Lookup(provider string) string {
	return s[normalize(provider)]
}
