// Package users is the user search sub-agent over the tenant user directory.
package users

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

// DepartmentAttribute is matched by free-text queries next to the name.
const DepartmentAttribute = "department"

// Filter selects users. Query matches names and the department; the
// attribute pair matches one profile attribute. Empty fields match all.
type Filter struct {
	Query          string
	AttributeName  string
	AttributeValue string
	SortBy         []string
	Limit          int
}

// Directory is the user lookup behind the search tools.
type Directory interface {
	Search(ctx context.Context, f Filter) ([]model.User, error)
	AttributeNames(ctx context.Context) ([]string, error)
}

// StaticDirectory serves a fixed user list.
type StaticDirectory struct {
	mu    sync.RWMutex
	users []model.User
}

func NewStaticDirectory(users ...model.User) *StaticDirectory {
	return &StaticDirectory{users: users}
}

func (d *StaticDirectory) Add(users ...model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users = append(d.users, users...)
}

func (d *StaticDirectory) Search(ctx context.Context, f Filter) ([]model.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []model.User
	for _, u := range d.users {
		if matchesQuery(u, f.Query) && matchesAttribute(u, f.AttributeName, f.AttributeValue) {
			out = append(out, u)
		}
	}
	sortUsers(out, f.SortBy)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (d *StaticDirectory) AttributeNames(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var names []string
	for _, u := range d.users {
		for _, a := range u.Attributes {
			if !slices.Contains(names, a.Name) {
				names = append(names, a.Name)
			}
		}
	}
	slices.Sort(names)
	return names, nil
}

func matchesQuery(u model.User, q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(u.FullName()), q) || strings.Contains(strings.ToLower(u.Email), q) {
		return true
	}
	return strings.Contains(strings.ToLower(attribute(u, DepartmentAttribute)), q)
}

func matchesAttribute(u model.User, name, value string) bool {
	if name == "" {
		return true
	}
	v := attribute(u, name)
	if v == "" {
		return false
	}
	return value == "" || strings.Contains(strings.ToLower(v), strings.ToLower(strings.TrimSpace(value)))
}

func attribute(u model.User, name string) string {
	for _, a := range u.Attributes {
		if strings.EqualFold(a.Name, name) {
			return a.Value
		}
	}
	return ""
}

func sortUsers(users []model.User, by []string) {
	if len(by) == 0 {
		return
	}
	slices.SortStableFunc(users, func(a, b model.User) int {
		for _, key := range by {
			var x, y string
			switch key {
			case "first_name":
				x, y = a.FirstName, b.FirstName
			case "last_name":
				x, y = a.LastName, b.LastName
			case DepartmentAttribute:
				x, y = attribute(a, DepartmentAttribute), attribute(b, DepartmentAttribute)
			default:
				continue
			}
			if c := strings.Compare(strings.ToLower(x), strings.ToLower(y)); c != 0 {
				return c
			}
		}
		return 0
	})
}
