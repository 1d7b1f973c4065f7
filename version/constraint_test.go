package version

import "testing"

func TestConstraint_Matches(t *testing.T) {
	tests := []struct {
		constraint string
		version    string
		want       bool
	}{
		{">=3.4", "2.8.0.0", false},
		{">=3.4", "3.4.0.0", true},
		{">=3.4", "4.0.0.0", true},
		{">= 3.5", "3.5.0.0-beta1", true},
		{">=3.4.0.0", "3.4.0.0", true},
		{">=3.5", "3.9999999.9999999.9999999-dev", true},
		{">=3.5", DevMaster, true},

		{"~1.2", "1.9.0.0", true},
		{"~1.2", "2.0.0.0", false},
		{"~1.2", "1.1.0.0", false},
		{"~1", "1.5.0.0", true},
		{"~1.2.3", "1.2.9.0", true},
		{"~1.2.3", "1.3.0.0", false},

		{"^2.0|^3.0", "3.1.0.0", true},
		{"^2.0 || ^3.0", "4.0.0.0", false},
		{">=1.0 <1.5", "1.4.0.0", true},
		{">=1.0,<1.5", "1.5.0.0", false},
		{"1.0 - 2.0", "1.5.0.0", true},
		{"^1.0@dev", "1.2.0.0", true},
		{"1.0.*", "1.0.7.0", true},
		{"==1.0.0", "1.0.0.0", true},
		{"<>1.0.0", "1.0.0.0", false},

		{"dev-master", "dev-master", true},
		{"dev-master", "1.0.0.0", false},
		{"dev-feature", "dev-feature", true},
		{"dev-feature", "dev-other", false},
		{">=1.0", "dev-feature", false},
		{">=1.0", "not a version", false},
	}

	for _, tt := range tests {
		t.Run(tt.constraint+"/"+tt.version, func(t *testing.T) {
			c, err := ParseConstraint(tt.constraint)
			if err != nil {
				t.Fatalf("ParseConstraint(%q) error = %v", tt.constraint, err)
			}
			if got := c.Matches(tt.version); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.version, got, tt.want)
			}
		})
	}
}

func TestParseConstraint_Invalid(t *testing.T) {
	for _, s := range []string{"", "   ", ">=foo", "^1.0 ||"} {
		if _, err := ParseConstraint(s); err == nil {
			t.Errorf("ParseConstraint(%q) should fail", s)
		}
	}
}

func TestConstraint_String(t *testing.T) {
	c := MustParseConstraint("  >=3.5 ")
	if c.String() != ">=3.5" {
		t.Errorf("String() = %q, want >=3.5", c.String())
	}
}
