package permission

// Resources guarded by the platform. PHI resources additionally flip the
// phi_accessed flag on audit entries.
const (
	ResourcePatient       = "patient"
	ResourceImagingStudy  = "imaging_study"
	ResourceGenomicRecord = "genomic_record"
	ResourceBiosensorData = "biosensor_data"
	ResourceDiagnosis     = "diagnosis"
	ResourceUser          = "user"
	ResourceSession       = "session"
	ResourceRolePolicy    = "role_policy"
	ResourceAuditLog      = "audit_log"
)

// Actions recognized by the matrix.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionDelete = "delete"
	ActionExport = "export"
)

var phiResources = map[string]struct{}{
	ResourcePatient:       {},
	ResourceImagingStudy:  {},
	ResourceGenomicRecord: {},
	ResourceBiosensorData: {},
	ResourceDiagnosis:     {},
}

// IsPHI reports whether the resource carries protected health information.
func IsPHI(resource string) bool {
	_, ok := phiResources[resource]
	return ok
}

// DefaultSeed is the platform's baseline role matrix. Deployments replace or
// extend it through admin grants; roles absent here hold nothing until
// granted.
func DefaultSeed() []Grant {
	grant := func(role, resource string, actions ...string) []Grant {
		out := make([]Grant, 0, len(actions))
		for _, action := range actions {
			out = append(out, Grant{Role: role, Permission: Permission{Resource: resource, Action: action}})
		}
		return out
	}

	var seed []Grant
	add := func(gs []Grant) { seed = append(seed, gs...) }

	// super_admin: everything on every resource.
	for _, resource := range []string{
		ResourcePatient, ResourceImagingStudy, ResourceGenomicRecord,
		ResourceBiosensorData, ResourceDiagnosis, ResourceUser,
		ResourceSession, ResourceRolePolicy, ResourceAuditLog,
	} {
		add(grant(RoleNameSuperAdmin, resource, ActionRead, ActionWrite, ActionDelete, ActionExport))
	}

	// admin: account and session administration, no clinical PHI.
	add(grant(RoleNameAdmin, ResourceUser, ActionRead, ActionWrite, ActionDelete))
	add(grant(RoleNameAdmin, ResourceSession, ActionRead, ActionDelete))
	add(grant(RoleNameAdmin, ResourceRolePolicy, ActionRead, ActionWrite))
	add(grant(RoleNameAdmin, ResourceAuditLog, ActionRead))

	// physician: full clinical read/write.
	add(grant(RoleNamePhysician, ResourcePatient, ActionRead, ActionWrite))
	add(grant(RoleNamePhysician, ResourceDiagnosis, ActionRead, ActionWrite))
	add(grant(RoleNamePhysician, ResourceImagingStudy, ActionRead))
	add(grant(RoleNamePhysician, ResourceGenomicRecord, ActionRead))
	add(grant(RoleNamePhysician, ResourceBiosensorData, ActionRead))

	// radiologist: imaging plus patient context.
	add(grant(RoleNameRadiologist, ResourceImagingStudy, ActionRead, ActionWrite))
	add(grant(RoleNameRadiologist, ResourcePatient, ActionRead))
	add(grant(RoleNameRadiologist, ResourceDiagnosis, ActionRead))

	// nurse: patient care context, no genomics.
	add(grant(RoleNameNurse, ResourcePatient, ActionRead, ActionWrite))
	add(grant(RoleNameNurse, ResourceBiosensorData, ActionRead))
	add(grant(RoleNameNurse, ResourceDiagnosis, ActionRead))

	// researcher: de-identified export paths only.
	add(grant(RoleNameResearcher, ResourceGenomicRecord, ActionRead, ActionExport))
	add(grant(RoleNameResearcher, ResourceBiosensorData, ActionRead, ActionExport))

	// patient: own-record read. Row scoping is the resource service's job;
	// the matrix only answers whether the role may touch the type at all.
	add(grant(RoleNamePatient, ResourcePatient, ActionRead))
	add(grant(RoleNamePatient, ResourceDiagnosis, ActionRead))
	add(grant(RoleNamePatient, ResourceImagingStudy, ActionRead))

	// auditor: audit trail only.
	add(grant(RoleNameAuditor, ResourceAuditLog, ActionRead, ActionExport))

	return seed
}

// Role names duplicated here so the seed does not import the root package.
const (
	RoleNameSuperAdmin  = "super_admin"
	RoleNameAdmin       = "admin"
	RoleNamePhysician   = "physician"
	RoleNameRadiologist = "radiologist"
	RoleNameNurse       = "nurse"
	RoleNameResearcher  = "researcher"
	RoleNamePatient     = "patient"
	RoleNameAuditor     = "auditor"
)
