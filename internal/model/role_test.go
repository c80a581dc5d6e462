package model

import (
	"image"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		input   string
		want    Role
		wantErr bool
	}{
		{"thermal", RoleThermal, false},
		{"rgb", RoleRGB, false},
		{"RGB", "", true},
		{"", "", true},
		{"depth", "", true},
	}

	for _, tt := range tests {
		got, err := ParseRole(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, expected %q", tt.input, got, tt.want)
		}
	}
}

func TestRoles_Order(t *testing.T) {
	roles := Roles()
	if len(roles) != 2 || roles[0] != RoleThermal || roles[1] != RoleRGB {
		t.Errorf("Roles() = %v, expected [thermal rgb]", roles)
	}
}

func TestFrame_Empty(t *testing.T) {
	if !(Frame{}).Empty() {
		t.Error("zero Frame should be empty")
	}
	f := Frame{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}
	if f.Empty() {
		t.Error("Frame with pixels should not be empty")
	}
}
