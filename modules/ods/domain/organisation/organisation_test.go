package organisation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrimaryRole_PrefersActive(t *testing.T) {
	o := Organisation{Roles: []Role{
		{RoleType: "RO177", IsPrimary: true, Active: false},
		{RoleType: "RO76", IsPrimary: false, Active: true},
		{RoleType: "RO197", IsPrimary: true, Active: true},
	}}

	r, ok := o.PrimaryRole()
	require.True(t, ok)
	require.Equal(t, "RO197", r.RoleType)
}

func TestPrimaryRole_FallsBackToInactivePrimary(t *testing.T) {
	o := Organisation{Roles: []Role{
		{RoleType: "RO76", Active: true},
		{RoleType: "RO177", IsPrimary: true},
	}}

	r, ok := o.PrimaryRole()
	require.True(t, ok)
	require.Equal(t, "RO177", r.RoleType)

	_, ok = (&Organisation{}).PrimaryRole()
	require.False(t, ok)
}

func TestActiveRoles_IgnoresInactiveRoles(t *testing.T) {
	o := Organisation{Roles: []Role{
		{RoleType: "RO177", Active: false},
		{RoleType: "RO76", Active: true},
	}}
	active := o.ActiveRoles()
	require.Len(t, active, 1)
	require.Equal(t, "RO76", active[0].RoleType)
}

func TestSuccessionCodes_AreSorted(t *testing.T) {
	o := Organisation{
		Code: "RWM",
		Successors: []Succession{
			{PredecessorCode: "RWM", SuccessorCode: "7A4"},
			{PredecessorCode: "RWM", SuccessorCode: "7A3"},
		},
		Predecessors: []Succession{{PredecessorCode: "RWMBV", SuccessorCode: "RWM"}},
	}
	require.Equal(t, []string{"7A3", "7A4"}, o.SuccessorCodes())
	require.Equal(t, []string{"RWMBV"}, o.PredecessorCodes())
}

func TestRecordClass_Valid(t *testing.T) {
	require.True(t, RecordClassOrganisation.Valid())
	require.True(t, RecordClassSite.Valid())
	require.False(t, RecordClass("Trust").Valid())
}
