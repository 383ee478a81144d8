package rbac

import "testing"

func TestHasAny(t *testing.T) {
	cases := []struct {
		name     string
		set      Set
		required []string
		want     bool
	}{
		{"match single", NewSet("Admin"), []string{"Admin"}, true},
		{"match one of several", NewSet("Trusted", "Subscriber"), []string{"Admin", "Subscriber"}, true},
		{"no overlap", NewSet("Trusted"), []string{"Admin", "Moderator"}, false},
		{"empty required never matches", NewSet("Admin"), nil, false},
		{"empty set never matches", NewSet(), []string{"Admin"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.set.HasAny(tc.required); got != tc.want {
				t.Errorf("HasAny(%v) = %v, want %v", tc.required, got, tc.want)
			}
		})
	}
}

func TestHas(t *testing.T) {
	s := NewSet(RoleModerator)
	if !s.Has(RoleModerator) {
		t.Error("expected Moderator membership")
	}
	if s.Has(RoleAdmin) {
		t.Error("did not expect Admin membership")
	}
}
