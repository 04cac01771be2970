package queue

import "github.com/waa2l/queue2/internal/auth"

const (
	cmdAdvance        = "advance"
	cmdRetreat        = "retreat"
	cmdJump           = "jump"
	cmdRepeat         = "repeat"
	cmdReset          = "reset"
	cmdSetActive      = "set_active"
	cmdCallByName     = "call_by_name"
	cmdTransfer       = "transfer"
	cmdEmergency      = "emergency"
	cmdDoctorAlert    = "doctor_alert"
	cmdResetAll       = "reset_all"
	cmdAdminCall      = "admin_call"
	cmdAdminEmergency = "admin_emergency"
	cmdTextAlert      = "text_alert"
	cmdAdminAlert     = "admin_alert"
)

var clinicRoles = []auth.Role{auth.RoleClinic, auth.RoleAdmin, auth.RoleSystem}
var adminRoles = []auth.Role{auth.RoleAdmin, auth.RoleSystem}

var commandRoles = map[string][]auth.Role{
	cmdAdvance:        clinicRoles,
	cmdRetreat:        clinicRoles,
	cmdJump:           clinicRoles,
	cmdRepeat:         clinicRoles,
	cmdReset:          clinicRoles,
	cmdSetActive:      clinicRoles,
	cmdCallByName:     clinicRoles,
	cmdTransfer:       clinicRoles,
	cmdEmergency:      clinicRoles,
	cmdDoctorAlert:    clinicRoles,
	cmdResetAll:       adminRoles,
	cmdAdminCall:      adminRoles,
	cmdAdminEmergency: adminRoles,
	cmdTextAlert:      adminRoles,
	cmdAdminAlert:     adminRoles,
}

func Allowed(command string, role auth.Role) bool {
	roles, ok := commandRoles[command]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
