package rbac

// Permanent role names. Forums may additionally restrict viewing or
// posting to arbitrary role names stored alongside the forum.
const (
	RoleAdmin     = "Admin"
	RoleModerator = "Moderator"
)

// Set is an unordered collection of role names.
type Set map[string]struct{}

// NewSet builds a Set from a list of role names.
func NewSet(roles ...string) Set {
	s := make(Set, len(roles))
	for _, role := range roles {
		s[role] = struct{}{}
	}
	return s
}

// Has reports whether the set contains the given role.
func (s Set) Has(role string) bool {
	_, ok := s[role]
	return ok
}

// HasAny reports whether the set intersects the given role names.
// An empty argument list never matches.
func (s Set) HasAny(roles []string) bool {
	for _, role := range roles {
		if _, ok := s[role]; ok {
			return true
		}
	}
	return false
}

// Names returns the role names in unspecified order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	return names
}
