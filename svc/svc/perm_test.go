package svc

import (
	"testing"

	"github.com/YanivGeorgePerez/dapim/pkg/domain"
)

func TestHasPermission(t *testing.T) {
	admin := &domain.Group{Name: "Admin", Permissions: []string{domain.WildcardPermission}}
	mod := &domain.Group{Name: "Moderator", Permissions: []string{"delete_paste", "delete_comment", "ban_user"}}
	member := &domain.Group{Name: "Member", Permissions: []string{}}

	cases := []struct {
		name  string
		group *domain.Group
		perm  string
		want  bool
	}{
		{"nil group denies", nil, "delete_paste", false},
		{"wildcard allows anything", admin, "delete_paste", true},
		{"wildcard allows unknown perms", admin, "made_up_permission", true},
		{"exact match allows", mod, "ban_user", true},
		{"non-member denies", mod, "edit_site", false},
		{"empty set denies", member, "delete_paste", false},
		{"no substring matching", mod, "delete", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := HasPermission(tc.group, tc.perm); got != tc.want {
				t.Errorf("HasPermission(%v, %q) = %v, want %v", tc.group, tc.perm, got, tc.want)
			}
		})
	}
}
