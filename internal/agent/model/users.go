package model

import (
	"fmt"
	"strings"
)

// UserAttribute is one custom profile attribute.
type UserAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// User is a directory entry returned by the user-search agent.
type User struct {
	ID         string          `json:"id"`
	FirstName  string          `json:"first_name"`
	LastName   string          `json:"last_name"`
	Email      string          `json:"email,omitempty"`
	Attributes []UserAttribute `json:"attributes,omitempty"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// String renders the user as a markdown list entry.
func (u User) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s", u.FullName())
	for _, a := range u.Attributes {
		if a.Value == "" {
			continue
		}
		fmt.Fprintf(&b, "\n  - %s: %s", a.Name, a.Value)
	}
	return b.String()
}
