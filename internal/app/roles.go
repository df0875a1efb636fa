package app

import (
	"context"

	"github.com/quantfall/otcdesk/internal/domain"
)

// systemPrincipal is the reserved identity used by the application itself for
// bootstrap configuration and background loops. It always holds admin.
const systemPrincipal = "system"

// staticRoleProvider answers permission checks from the configured
// principal -> permissions map. It is immutable after construction.
type staticRoleProvider struct {
	perms map[string]map[domain.Permission]bool
}

func newStaticRoleProvider(roles map[string][]string) *staticRoleProvider {
	perms := make(map[string]map[domain.Permission]bool, len(roles)+1)
	for principal, list := range roles {
		set := make(map[domain.Permission]bool, len(list))
		for _, p := range list {
			set[domain.Permission(p)] = true
		}
		perms[principal] = set
	}
	if perms[systemPrincipal] == nil {
		perms[systemPrincipal] = map[domain.Permission]bool{domain.PermAdmin: true}
	}
	return &staticRoleProvider{perms: perms}
}

func (p *staticRoleProvider) HasPermission(_ context.Context, principal string, perm domain.Permission) bool {
	return p.perms[principal][perm]
}
