package credential

import "context"

// Resolver is the contract internal/executor.CredentialResolver consumes
// (spec.md §6): resolve credential ids to plaintext values. The executor
// only ever sees this one method — it has no notion of envelope encryption,
// KMS, or a Postgres-backed repository, even though cmd/engine wires all
// three behind it (see InjectorResolver and newEncryptionService). That
// storage/encryption machinery is genuinely part of this tree, not a stub:
// Resolve's job is to keep the executor from depending on any of it
// directly, not to mark it out of scope.
type Resolver interface {
	Resolve(ctx context.Context, credentialIDs []string) (map[string]string, error)
}

// InjectorResolver adapts an *Injector to the narrow Resolver contract the
// executor consumes, looking credentials up by name within a fixed tenant.
type InjectorResolver struct {
	injector   *Injector
	tenantID   string
	accessedBy string
}

func NewInjectorResolver(injector *Injector, tenantID, accessedBy string) *InjectorResolver {
	return &InjectorResolver{injector: injector, tenantID: tenantID, accessedBy: accessedBy}
}

// Resolve looks up each credential id as a name within the resolver's
// tenant, decrypts it, and returns name -> plaintext. A lookup failure for
// one id fails the whole call — a node with a missing credential should not
// run with a partial credential set.
func (r *InjectorResolver) Resolve(ctx context.Context, credentialIDs []string) (map[string]string, error) {
	injCtx := &InjectionContext{TenantID: r.tenantID, AccessedBy: r.accessedBy}
	out := make(map[string]string, len(credentialIDs))
	for _, id := range credentialIDs {
		v, err := r.injector.getCredentialValue(ctx, r.tenantID, id, injCtx)
		if err != nil {
			return nil, err
		}
		out[id] = v
	}
	return out, nil
}
