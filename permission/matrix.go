package permission

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
)

// Permission is one grantable capability.
type Permission struct {
	Resource string
	Action   string
}

// Grant pairs a role with a permission, used for bulk seeding.
type Grant struct {
	Role       string
	Permission Permission
}

type snapshot struct {
	version uint64
	grants  map[string]map[Permission]struct{}
}

// Matrix is the role → permission whitelist. Zero value is not usable; build
// with [NewMatrix].
type Matrix struct {
	mu      sync.Mutex // serializes writers only
	current atomic.Pointer[snapshot]
}

// NewMatrix builds a matrix from the seed grants. Later mutations swap in a
// fresh snapshot; readers keep whatever snapshot they started with.
func NewMatrix(seed []Grant) (*Matrix, error) {
	grants := make(map[string]map[Permission]struct{})
	for _, g := range seed {
		if g.Role == "" || g.Permission.Resource == "" || g.Permission.Action == "" {
			return nil, errors.New("grant with empty role, resource, or action")
		}
		set, ok := grants[g.Role]
		if !ok {
			set = make(map[Permission]struct{})
			grants[g.Role] = set
		}
		set[g.Permission] = struct{}{}
	}

	m := &Matrix{}
	m.current.Store(&snapshot{version: 1, grants: grants})
	return m, nil
}

// Has reports whether the role is granted (resource, action). Pure lookup,
// deny-by-default, safe for unbounded concurrent callers.
func (m *Matrix) Has(role, resource, action string) bool {
	snap := m.current.Load()
	set, ok := snap.grants[role]
	if !ok {
		return false
	}
	_, ok = set[Permission{Resource: resource, Action: action}]
	return ok
}

// KnownRole reports whether the role appears in the matrix at all.
func (m *Matrix) KnownRole(role string) bool {
	_, ok := m.current.Load().grants[role]
	return ok
}

// Version returns the snapshot generation, bumped on every mutation.
func (m *Matrix) Version() uint64 {
	return m.current.Load().version
}

// Grant adds a permission to the role and swaps in a new snapshot.
func (m *Matrix) Grant(role string, perm Permission) error {
	if role == "" || perm.Resource == "" || perm.Action == "" {
		return errors.New("empty role, resource, or action")
	}
	m.mutate(func(grants map[string]map[Permission]struct{}) {
		set, ok := grants[role]
		if !ok {
			set = make(map[Permission]struct{})
			grants[role] = set
		}
		set[perm] = struct{}{}
	})
	return nil
}

// Revoke removes a permission from the role. Revoking an absent grant is a
// no-op; the snapshot still advances so watchers observe the mutation.
func (m *Matrix) Revoke(role string, perm Permission) {
	m.mutate(func(grants map[string]map[Permission]struct{}) {
		if set, ok := grants[role]; ok {
			delete(set, perm)
		}
	})
}

// Roles returns the sorted role names present in the matrix.
func (m *Matrix) Roles() []string {
	snap := m.current.Load()
	out := make([]string, 0, len(snap.grants))
	for role := range snap.grants {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// RolePermissions returns the role's grants sorted by resource then action.
func (m *Matrix) RolePermissions(role string) []Permission {
	snap := m.current.Load()
	set, ok := snap.grants[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Action < out[j].Action
	})
	return out
}

func (m *Matrix) mutate(apply func(map[string]map[Permission]struct{})) {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.current.Load()
	grants := make(map[string]map[Permission]struct{}, len(old.grants))
	for role, set := range old.grants {
		copied := make(map[Permission]struct{}, len(set))
		for perm := range set {
			copied[perm] = struct{}{}
		}
		grants[role] = copied
	}

	apply(grants)
	m.current.Store(&snapshot{version: old.version + 1, grants: grants})
}
