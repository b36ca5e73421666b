package authmw

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleLeader  Role = "leader"
	RoleStudent Role = "student"
)

// AllRoles lists the roles allowed on the board routes.
var AllRoles = []string{string(RoleStudent), string(RoleLeader), string(RoleAdmin)}

// Capabilities says what a principal may change on a board.
type Capabilities struct {
	// CanAssign allows setting the assignee to someone else.
	CanAssign       bool `json:"can_assign"`
	CanEditStatus   bool `json:"can_edit_status"`
	CanEditFields   bool `json:"can_edit_fields"`
	CanDelete       bool `json:"can_delete"`
	CanManageGroups bool `json:"can_manage_groups"`
	// CanActForOthers allows working on boards owned by other users.
	CanActForOthers bool `json:"can_act_for_others"`
}

var capabilityTable = map[Role]Capabilities{
	RoleAdmin: {
		CanAssign: true, CanEditStatus: true, CanEditFields: true,
		CanDelete: true, CanManageGroups: true, CanActForOthers: true,
	},
	RoleLeader: {
		CanAssign: true, CanEditStatus: true, CanEditFields: true,
		CanDelete: true, CanManageGroups: true, CanActForOthers: true,
	},
	RoleStudent: {
		CanEditStatus: true, CanEditFields: true,
		CanDelete: true, CanManageGroups: true,
	},
}

// CapabilitiesFor merges the capabilities of every known role; unknown
// roles grant nothing.
func CapabilitiesFor(roles []string) Capabilities {
	var out Capabilities
	for _, r := range roles {
		c, ok := capabilityTable[Role(r)]
		if !ok {
			continue
		}
		out.CanAssign = out.CanAssign || c.CanAssign
		out.CanEditStatus = out.CanEditStatus || c.CanEditStatus
		out.CanEditFields = out.CanEditFields || c.CanEditFields
		out.CanDelete = out.CanDelete || c.CanDelete
		out.CanManageGroups = out.CanManageGroups || c.CanManageGroups
		out.CanActForOthers = out.CanActForOthers || c.CanActForOthers
	}
	return out
}
