package policy

import "github.com/diewo77/go-assistance/gate"

// Resource types known to the gate.
const (
	ResourceBudgetPool = "budget_pool"
	ResourceTransfer   = "transfer"
	ResourceDemande    = "demande"
	ResourceUser       = "user"
)

// Capabilities required by each service operation. Every operation checks
// exactly one of these at its entry point.
var (
	CapListPools      = gate.Capability{Resource: ResourceBudgetPool, Action: gate.ActionList}
	CapViewPool       = gate.Capability{Resource: ResourceBudgetPool, Action: gate.ActionView}
	CapCreatePool     = gate.Capability{Resource: ResourceBudgetPool, Action: gate.ActionCreate}
	CapUpdatePool     = gate.Capability{Resource: ResourceBudgetPool, Action: gate.ActionUpdate}
	CapDeletePool     = gate.Capability{Resource: ResourceBudgetPool, Action: gate.ActionDelete}
	CapAllocate       = gate.Capability{Resource: ResourceBudgetPool, Action: gate.ActionAllocate}
	CapTransfer       = gate.Capability{Resource: ResourceBudgetPool, Action: gate.ActionTransfer}
	CapPoolAnalytics  = gate.Capability{Resource: ResourceBudgetPool, Action: gate.ActionAnalytics}
	CapApproveFunds   = gate.Capability{Resource: ResourceTransfer, Action: gate.ActionApprove}
	CapCreateDemande  = gate.Capability{Resource: ResourceDemande, Action: gate.ActionCreate}
	CapViewDemande    = gate.Capability{Resource: ResourceDemande, Action: gate.ActionView}
	CapListDemandes   = gate.Capability{Resource: ResourceDemande, Action: gate.ActionList}
	CapUpdateDemande  = gate.Capability{Resource: ResourceDemande, Action: gate.ActionUpdate}
	CapReviewDemande  = gate.Capability{Resource: ResourceDemande, Action: gate.ActionReview}
	CapListUsers      = gate.Capability{Resource: ResourceUser, Action: gate.ActionList}
	CapAssignProfiles = gate.Capability{Resource: ResourceUser, Action: gate.ActionUpdate}
)
