package model

// User roles.
const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleStaff    = "staff"
	RoleCustomer = "customer"
)

// UserStatusLocked is the status change that locks an account.
const UserStatusLocked = "locked"

// User is an operator or customer account.
type User struct {
	ID                 string  `json:"_id"`
	Name               string  `json:"name"`
	Email              string  `json:"email"`
	Phone              string  `json:"phone,omitempty"`
	Address            string  `json:"address,omitempty"`
	Age                int     `json:"age,omitempty"`
	Role               string  `json:"role"`
	Active             bool    `json:"active"`
	ServiceIDs         []Ref   `json:"serviceIds,omitempty"`
	DiscountPercentage float64 `json:"discountPercentage,omitempty"`
}

// ResourceID implements Resource.
func (u User) ResourceID() string { return u.ID }

// UserInput is the create form. Password is required on create and ignored
// when empty on update.
type UserInput struct {
	Name               string   `json:"name"               validate:"required,max=120"`
	Email              string   `json:"email"              validate:"required,email"`
	Password           string   `json:"password"           validate:"omitempty,min=6"`
	Phone              string   `json:"phone"              validate:"omitempty,max=20"`
	Address            string   `json:"address"`
	Age                int      `json:"age"                validate:"gte=0,lte=150"`
	Role               string   `json:"role"               validate:"required,oneof=admin manager staff customer"`
	ServiceIDs         []string `json:"serviceIds"`
	DiscountPercentage float64  `json:"discountPercentage" validate:"gte=0,lte=100"`
	Creating           bool     `json:"-"`
}

// Payload implements Submission. Service assignments only apply to staff.
func (in UserInput) Payload() Payload {
	fields := map[string]any{
		"name":               in.Name,
		"email":              in.Email,
		"phone":              in.Phone,
		"address":            in.Address,
		"age":                in.Age,
		"role":               in.Role,
		"discountPercentage": in.DiscountPercentage,
		"serviceIds":         []string{},
	}
	if in.Password != "" {
		fields["password"] = in.Password
	}
	if in.Role == RoleStaff && len(in.ServiceIDs) > 0 {
		fields["serviceIds"] = in.ServiceIDs
	}
	return Payload{Fields: fields}
}

// Check implements Checker.
func (in UserInput) Check() []FieldError {
	if in.Creating && in.Password == "" {
		return []FieldError{{Field: "password", Code: "REQUIRED", Message: "Password is required"}}
	}
	return nil
}
