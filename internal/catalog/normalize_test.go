package catalog

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"jira", "JIRA"},
		{"  Jira   Cloud ", "JIRA CLOUD"},
		{"Dirección\tGeneral", "DIRECCIÓN GENERAL"},
		{"ＳＡＰ", "SAP"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewKey(t *testing.T) {
	a := NewKey("Unit A", "role x", "jira")
	b := NewKey(" UNIT  A", "Role X ", "JIRA")
	if a != b {
		t.Errorf("NewKey() = %v and %v, want equal", a, b)
	}
	if a.String() != "UNIT A|ROLE X|JIRA" {
		t.Errorf("Key.String() = %q", a.String())
	}
}

func TestIsActiveStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"", true},
		{"Active", true},
		{"active", true},
		{" ACTIVO ", true},
		{"Inactive", false},
		{"retired", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := IsActiveStatus(tt.status); got != tt.want {
				t.Errorf("IsActiveStatus(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestBaseUnit(t *testing.T) {
	tests := []struct {
		unit, want string
	}{
		{"Finance / Payroll", "Finance"},
		{"Finance", "Finance"},
		{"  Sales/North/East ", "Sales"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := BaseUnit(tt.unit); got != tt.want {
			t.Errorf("BaseUnit(%q) = %q, want %q", tt.unit, got, tt.want)
		}
	}
}
