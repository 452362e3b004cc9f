package auth

// Subject is an account as known to the IdP. It contains facts only, no decisions.
type Subject struct {
	ID            string // IdP-scoped stable identifier (sub / user_id)
	Email         string // unique within the IdP, compared case-insensitively
	Name          string
	EmailVerified bool
}

// NewUser is the payload for creating a subject on the IdP.
type NewUser struct {
	Email         string
	Password      string
	Name          string
	Connection    string // IdP database connection, e.g. "Username-Password-Authentication"
	EmailVerified bool
}

// MirrorUser is a row of the backend's user listing.
type MirrorUser struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Sub     string `json:"sub"`
	IsAdmin bool   `json:"isAdmin"`
}
