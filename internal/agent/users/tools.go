package users

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

const (
	ToolSearchUsers          = "search_users"
	ToolAttributeDefinitions = "get_user_attribute_definitions"
)

var SearchSpec = llm.ToolSpec{
	Name: ToolSearchUsers,
	Desc: "Search for users by name or department, or filter on one user attribute. " +
		"Use attribute_name and attribute_value to find users with a specific attribute value.",
	Params: map[string]*schema.ParameterInfo{
		"query": {
			Type: schema.String,
			Desc: "First name, last name, full name or department",
		},
		"attribute_name": {
			Type: schema.String,
			Desc: "Technical name of the attribute to filter by",
		},
		"attribute_value": {
			Type: schema.String,
			Desc: "The value to filter for",
		},
		"include_attributes": {
			Type:     schema.Array,
			ElemInfo: &schema.ParameterInfo{Type: schema.String},
			Desc:     "Attribute names to include in the response. Only list attributes relevant to the task.",
		},
		"sort_by": {
			Type:     schema.Array,
			ElemInfo: &schema.ParameterInfo{Type: schema.String, Enum: []string{"first_name", "last_name", DepartmentAttribute}},
			Desc:     "Optional sort keys",
		},
		"max_results": {
			Type: schema.Integer,
			Desc: "Maximum number of users to return",
		},
	},
}

var AttributeDefinitionsSpec = llm.ToolSpec{
	Name: ToolAttributeDefinitions,
	Desc: "Returns the names of all user attributes. Call this first when you need attributes for " + ToolSearchUsers + ".",
}

type searchArgs struct {
	Query             string   `json:"query,omitempty"`
	AttributeName     string   `json:"attribute_name,omitempty"`
	AttributeValue    string   `json:"attribute_value,omitempty"`
	IncludeAttributes []string `json:"include_attributes,omitempty"`
	SortBy            []string `json:"sort_by,omitempty"`
	MaxResults        int      `json:"max_results,omitempty"`
}

type noArgs struct{}

func (d *Deps) toolbox(state *model.UserSearchState) *tools.Toolbox {
	return tools.NewToolbox().
		Add(SearchSpec, tools.New(SearchSpec, d.searchTool(state))).
		Add(AttributeDefinitionsSpec, tools.New(AttributeDefinitionsSpec, d.attributesTool))
}

func (d *Deps) searchTool(state *model.UserSearchState) func(context.Context, *searchArgs) (string, error) {
	return func(ctx context.Context, in *searchArgs) (string, error) {
		limit := d.Config.MaxResults
		if in.MaxResults > 0 {
			if in.MaxResults > d.Config.MaxResults {
				return fmt.Sprintf("Error: max_results (%d) exceeds the maximum allowed value of %d. Please use a value of %d or less.",
					in.MaxResults, d.Config.MaxResults, d.Config.MaxResults), nil
			}
			limit = in.MaxResults
		}

		found, err := d.Directory.Search(ctx, Filter{
			Query:          in.Query,
			AttributeName:  in.AttributeName,
			AttributeValue: in.AttributeValue,
			SortBy:         in.SortBy,
			Limit:          limit,
		})
		if err != nil {
			return "", err
		}
		if len(found) == 0 {
			if in.AttributeName != "" {
				return "No users found matching the specified attribute filter", nil
			}
			return "No users found", nil
		}
		state.AddUsers(found)

		lines := make([]string, len(found))
		for i, u := range found {
			lines[i] = formatListed(u, in.IncludeAttributes)
		}
		total := fmt.Sprintf("**Found %d user(s)**", len(found))
		if len(found) == limit {
			total += fmt.Sprintf(" (limited to %d)", limit)
		}
		return total + ":\n" + strings.Join(lines, "\n"), nil
	}
}

func (d *Deps) attributesTool(ctx context.Context, _ *noArgs) (string, error) {
	names, err := d.Directory.AttributeNames(ctx)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "No user attributes are defined.", nil
	}
	return "Attribute Definitions:\n\t - " + strings.Join(names, "\n\t - "), nil
}

// formatListed renders u with only the requested attributes.
func formatListed(u model.User, include []string) string {
	var b strings.Builder
	b.WriteString("- " + u.FullName())
	for _, a := range u.Attributes {
		if slices.Contains(include, a.Name) {
			fmt.Fprintf(&b, "\n  - %s: %s", a.Name, a.Value)
		}
	}
	return b.String()
}
