package types

import (
	"fmt"
	"strings"
)

// Geo is the coordinate pair attached to an address. The remote sends both
// values as strings.
type Geo struct {
	Lat string `json:"lat" firestore:"lat"`
	Lng string `json:"lng" firestore:"lng"`
}

// Address is the optional postal address of a User.
type Address struct {
	Street  string `json:"street" firestore:"street"`
	Suite   string `json:"suite" firestore:"suite"`
	City    string `json:"city" firestore:"city"`
	Zipcode string `json:"zipcode" firestore:"zipcode"`
	Geo     Geo    `json:"geo" firestore:"geo"`
}

// Company is the optional employer of a User.
type Company struct {
	Name        string `json:"name" firestore:"name"`
	CatchPhrase string `json:"catchPhrase" firestore:"catchPhrase"`
	BS          string `json:"bs" firestore:"bs"`
}

// User is a record of the "users" collection.
type User struct {
	ID       int      `json:"id" firestore:"id"`
	Name     string   `json:"name" firestore:"name"`
	Username string   `json:"username" firestore:"username"`
	Email    string   `json:"email" firestore:"email"`
	Address  *Address `json:"address,omitempty" firestore:"address,omitempty"`
	Phone    string   `json:"phone,omitempty" firestore:"phone,omitempty"`
	Website  string   `json:"website,omitempty" firestore:"website,omitempty"`
	Company  *Company `json:"company,omitempty" firestore:"company,omitempty"`
}

// GetID implements Record.
func (u User) GetID() int { return u.ID }

// Validate checks the fields the user form marks as required.
func (u User) Validate() error {
	switch {
	case strings.TrimSpace(u.Name) == "":
		return fmt.Errorf("%w: user name is required", ErrInvalidRecord)
	case strings.TrimSpace(u.Username) == "":
		return fmt.Errorf("%w: username is required", ErrInvalidRecord)
	case !strings.Contains(u.Email, "@"):
		return fmt.Errorf("%w: email %q is not valid", ErrInvalidRecord, u.Email)
	}
	return nil
}
