package rbac

// Role names issued by the clinic admin system.
const (
	RoleAdmin     = "admin"
	RoleCounselor = "counselor"
	RoleStaff     = "staff"
)

// CallLogReaders may browse call records.
var CallLogReaders = []string{RoleAdmin, RoleCounselor, RoleStaff}

func IsAdmin(role string) bool { return role == RoleAdmin }
