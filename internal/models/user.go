package models

// User roles
const (
	RoleDriver     = "driver"
	RoleStudent    = "student"
	RoleDispatcher = "dispatcher"
)

type User struct {
	ID        string `json:"id" db:"id"`
	Email     string `json:"email" db:"email"`
	Password  string `json:"-" db:"password"` // Never return password in JSON
	Name      string `json:"name" db:"name"`
	Role      string `json:"role" db:"role"` // "driver", "student" or "dispatcher"
	CreatedAt int64  `json:"created_at" db:"created_at"`
	UpdatedAt int64  `json:"updated_at" db:"updated_at"`
}

type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
}

func (u *User) ToUserResponse() UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

// Session carries the authenticated caller's identity into the engine layers.
// Components receive it explicitly instead of reading ambient auth state.
type Session struct {
	UserID string
	Email  string
	Role   string
}

func (s Session) IsDriver() bool     { return s.Role == RoleDriver }
func (s Session) IsStudent() bool    { return s.Role == RoleStudent }
func (s Session) IsDispatcher() bool { return s.Role == RoleDispatcher }
