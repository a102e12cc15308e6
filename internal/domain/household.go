package domain

// 家庭成员角色
const (
	MemberRoleAdmin  = "admin"
	MemberRoleMember = "member"
)

// Relative 被照护的长辈，只读
type Relative struct {
	RelativeID  string `db:"id"`
	HouseholdID string `db:"household_id"`
	DisplayName string `db:"display_name"`
}

// HouseholdMember 家庭成员（household_members 表）
type HouseholdMember struct {
	HouseholdID string `db:"household_id"`
	UserID      string `db:"user_id"`
	Role        string `db:"role"`
}
