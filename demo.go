package main

import (
	"context"
	"time"

	"github.com/workplace-chat/orchestrator/internal/agent/flows"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/search"
	"github.com/workplace-chat/orchestrator/internal/agent/triggers"
	"github.com/workplace-chat/orchestrator/internal/agent/users"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

var demoQueries = []string{
	"How many vacation days can I carry over into next year?",
	"Who works in the Engineering department in Berlin?",
	"I need a new laptop, can you start the request for me?",
}

const demoPostQuery = "Write a short post reminding everyone how vacation carry over works this year."

func demoFlows() flows.StaticCatalog {
	return flows.StaticCatalog{
		{
			Name:        "Laptop request",
			Keyword:     "laptop",
			Description: "Use when an employee wants to order or replace a laptop.",
			APIClientID: "it-service-desk",
		},
		{
			Name:        "Sick leave",
			Keyword:     "sick",
			Description: "Use when an employee reports being sick or wants to register sick leave.",
			APIClientID: "hr-bot",
		},
	}
}

func daysAgo(n int) time.Time {
	return time.Now().AddDate(0, 0, -n)
}

func demoPosts() *search.MemoryCorpus {
	return search.NewMemoryCorpus(
		search.Hit{
			ChunkID:      "post-101#0",
			DocumentID:   "post-101",
			Title:        "Vacation carry over for this year",
			Source:       "https://intranet.example.com/posts/101",
			Content:      "Reminder: up to 5 unused vacation days can be carried over into next year. Carried over days expire on March 31.",
			LastModified: daysAgo(12),
		},
		search.Hit{
			ChunkID:      "post-102#0",
			DocumentID:   "post-102",
			Title:        "New laptops for the engineering team",
			Source:       "https://intranet.example.com/posts/102",
			Content:      "The engineering team moves to the new laptop generation. Request a laptop through the IT equipment flow.",
			LastModified: daysAgo(40),
		},
	)
}

func demoPages() *search.MemoryCorpus {
	return search.NewMemoryCorpus(
		search.Hit{
			ChunkID:      "page-7#0",
			DocumentID:   "page-7",
			Title:        "Vacation and leave policy",
			Source:       "https://intranet.example.com/pages/7",
			Content:      "Employees receive 25 vacation days per year. Requests need manager approval. Unused vacation days can be carried over up to 5 days.",
			LastModified: daysAgo(120),
		},
		search.Hit{
			ChunkID:      "page-9#0",
			DocumentID:   "page-9",
			Title:        "IT equipment requests",
			Source:       "https://intranet.example.com/pages/9",
			Content:      "Laptops, monitors and headsets are requested through the IT service desk. Delivery takes about one week.",
			LastModified: daysAgo(200),
		},
	)
}

func demoDirectory() *users.StaticDirectory {
	person := func(id, first, last, email, department, location string) model.User {
		return model.User{
			ID:        id,
			FirstName: first,
			LastName:  last,
			Email:     email,
			Attributes: []model.UserAttribute{
				{Name: users.DepartmentAttribute, Value: department},
				{Name: "location", Value: location},
			},
		}
	}
	return users.NewStaticDirectory(
		person("u-1", "Alice", "Johnson", "alice.johnson@example.com", "Engineering", "Berlin"),
		person("u-2", "Bob", "Smith", "bob.smith@example.com", "Engineering", "Zurich"),
		person("u-3", "Marco", "Brunner", "marco.brunner@example.com", "Sales", "Berlin"),
		person("u-4", "Priya", "Natarajan", "priya.natarajan@example.com", "Engineering", "Berlin"),
	)
}

// seedTriggers stores the demo trigger when the tenant has none.
func seedTriggers(ctx context.Context, catalog *triggers.RedisCatalog, tenant string) error {
	existing, err := catalog.List(ctx, tenant)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	t, err := catalog.Put(ctx, tenant, model.Trigger{
		Name:        "Request IT equipment",
		Description: "Start the IT equipment request flow when an employee asks for a laptop, monitor or headset.",
		Actions: []model.TriggerAction{{
			Type:        model.ActionTriggerFlipFlow,
			APIClientID: "it-service-desk",
			Keyword:     "equipment_request",
			FlowName:    "IT equipment request",
		}},
	})
	if err != nil {
		return err
	}
	logx.Info().Str("tenant", tenant).Str("trigger", t.ID).Msg("Seeded demo trigger")
	return nil
}
