package model

// UserProfile carries the public fields of a user record that may be shown
// to other participants of a room.  Accounts themselves are owned by the
// identity provider; this core only reads them.
//
// Fields:
//  ID       – users.id
//  Email    – users.email
//  FullName – users.full_name (nullable)
type UserProfile struct {
    ID       string  `json:"id"`        // users.id
    Email    string  `json:"email"`     // users.email
    FullName *string `json:"full_name"` // users.full_name (nullable)
}
