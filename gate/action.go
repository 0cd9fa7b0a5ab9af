package gate

// Action describes the kind of operation a user wants to perform.
type Action string

const (
	ActionView      Action = "view"
	ActionList      Action = "list"
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionDelete    Action = "delete"
	ActionAllocate  Action = "allocate"
	ActionTransfer  Action = "transfer"
	ActionApprove   Action = "approve"
	ActionReview    Action = "review"
	ActionAnalytics Action = "analytics"
)

// Capability names the single permission an operation requires.
type Capability struct {
	Resource string
	Action   Action
}

// Permission returns the "resource:action" permission for the capability.
func (c Capability) Permission() Permission {
	return NewPermission(c.Resource, c.Action)
}

func (c Capability) String() string {
	return string(c.Permission())
}
