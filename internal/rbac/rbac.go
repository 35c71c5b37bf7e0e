package rbac

type Role string
type Action string

const (
	RoleClient   Role = "client"
	RoleEmployee Role = "employee"
	RoleExpert   Role = "expert"
	RoleAdmin    Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionComment  Action = "comment"
	ActionAnnotate Action = "annotate"
	ActionUpload   Action = "upload"
	ActionReview   Action = "review"
	ActionDelete   Action = "delete"
)

// Can answers whether a role may perform an action at all. Per-document
// visibility is resolved separately; this is the coarse role gate.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleExpert:
		return action != ActionDelete
	case RoleEmployee:
		return action == ActionRead || action == ActionComment || action == ActionAnnotate || action == ActionUpload
	case RoleClient:
		return action == ActionRead || action == ActionComment || action == ActionUpload
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleClient, RoleEmployee, RoleExpert, RoleAdmin:
		return Role(role)
	default:
		return RoleClient
	}
}
