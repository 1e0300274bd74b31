package models

// Role is the side of the marketplace a session acts for.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
)

func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleDriver
}

// UserProfile is stored under users/{uid}.
type UserProfile struct {
	UID           string         `json:"uid"`
	DisplayName   string         `json:"displayName"`
	Email         string         `json:"email,omitempty"`
	PhoneNumber   string         `json:"phoneNumber,omitempty"`
	PhoneVerified bool           `json:"phoneVerified"`
	UserType      Role           `json:"userType,omitempty"`
	PhotoURL      string         `json:"photoURL,omitempty"`
	Preferences   map[string]any `json:"preferences,omitempty"`
}

// PhoneRecord is the small record consulted before a driver accepts or a
// customer is called.
type PhoneRecord struct {
	UserID      string      `db:"user_id" json:"userId"`
	PhoneNumber string      `db:"phone_number" json:"phoneNumber"`
	UserType    Role        `db:"user_type" json:"userType"`
	Verified    bool        `db:"verified" json:"verified"`
	Timestamp   EpochMillis `db:"timestamp" json:"timestamp"`
}

// SetPhoneRequest is checked for E.164 format by the profile service after
// trimming.
type SetPhoneRequest struct {
	PhoneNumber string `json:"phone_number" validate:"required"`
	UserType    Role   `json:"user_type" validate:"omitempty,oneof=customer driver"`
}

type UpdateProfileRequest struct {
	DisplayName string         `json:"display_name,omitempty" validate:"omitempty,min=2,max=100"`
	Preferences map[string]any `json:"preferences,omitempty"`
}
