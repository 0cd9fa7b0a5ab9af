package gate_test

import (
	"testing"

	"github.com/diewo77/go-assistance/gate"
)

func TestPermission_NewPermission(t *testing.T) {
	perm := gate.NewPermission("budget_pool", gate.ActionAllocate)
	if perm != "budget_pool:allocate" {
		t.Errorf("expected 'budget_pool:allocate', got '%s'", perm)
	}
}

func TestPermission_Parse(t *testing.T) {
	res, act := gate.Permission("transfer:approve").Parse()
	if res != "transfer" || act != gate.ActionApprove {
		t.Errorf("got (%s, %s)", res, act)
	}

	res, act = gate.Permission("invalid").Parse()
	if res != "" || act != "" {
		t.Errorf("expected empty strings, got '%s' and '%s'", res, act)
	}
}

func TestParsePermission(t *testing.T) {
	for _, s := range []string{"budget_pool:view", "*:*", "demande:*"} {
		if _, err := gate.ParsePermission(s); err != nil {
			t.Errorf("ParsePermission(%q) unexpected error: %v", s, err)
		}
	}
	for _, s := range []string{"", "budget_pool", ":view", "budget_pool:", "a:b:c"} {
		if _, err := gate.ParsePermission(s); err == nil {
			t.Errorf("ParsePermission(%q) expected error", s)
		}
	}
}

func TestPermission_Matches(t *testing.T) {
	tests := []struct {
		granted   gate.Permission
		requested gate.Permission
		want      bool
	}{
		{"budget_pool:allocate", "budget_pool:allocate", true},
		{"budget_pool:allocate", "budget_pool:delete", false},
		{"budget_pool:allocate", "transfer:allocate", false},
		{gate.PermissionSuperAdmin, "transfer:approve", true},
		{gate.PermissionSuperAdmin, "demande:review", true},
		{"budget_pool:*", "budget_pool:transfer", true},
		{"budget_pool:*", "transfer:approve", false},
		{"demande:*", "demande:review", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.granted)+"~"+string(tt.requested), func(t *testing.T) {
			if got := tt.granted.Matches(tt.requested); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
