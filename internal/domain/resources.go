package domain

import "time"

// ============================================================
// API resources used by the BFF services
// ============================================================

// CustomMetric is an ad-hoc metric saved on a project.
type CustomMetric struct {
	Name        string `json:"name"`
	Label       string `json:"label"`
	Table       string `json:"table"`
	Type        string `json:"type"`
	SQL         string `json:"sql"`
	Description string `json:"description,omitempty"`
	ChartUUID   string `json:"chartUuid,omitempty"`
	ChartLabel  string `json:"chartLabel,omitempty"`
}

// RegisterUserRequest is the body for POST /user.
type RegisterUserRequest struct {
	InviteCode string `json:"inviteCode"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Password   string `json:"password"`
}

// Validate checks required fields before the request leaves the BFF.
func (r *RegisterUserRequest) Validate() error {
	switch {
	case r.InviteCode == "":
		return &ErrValidation{Field: "inviteCode", Message: "is required"}
	case r.FirstName == "":
		return &ErrValidation{Field: "firstName", Message: "is required"}
	case r.LastName == "":
		return &ErrValidation{Field: "lastName", Message: "is required"}
	case r.Password == "":
		return &ErrValidation{Field: "password", Message: "is required"}
	}
	return nil
}

// User is the session user returned after registration.
type User struct {
	UserUUID         string    `json:"userUuid"`
	Email            string    `json:"email,omitempty"`
	FirstName        string    `json:"firstName"`
	LastName         string    `json:"lastName"`
	OrganizationUUID string    `json:"organizationUuid,omitempty"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt,omitempty"`
}

// SQLRunRequest is the body for the streaming SQL runner endpoint.
type SQLRunRequest struct {
	SQL   string `json:"sql"`
	Limit int    `json:"limit,omitempty"`
}
