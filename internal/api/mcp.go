package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/whatnext/internal/prefs"
	"github.com/kalambet/whatnext/internal/recommend"
	"github.com/kalambet/whatnext/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store   *storage.Store
	Prefs   *prefs.Manager
	Engines map[string]*recommend.Engine
	Count   int // default recommendation count
}

// NewMCPServer creates an MCP server with all whatnext tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"whatnext",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("whatnext — local recommendations for restaurants, movies, and TV shows, personalized per user."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("recommend",
			mcp.WithDescription("Recommend items from a domain for a user, ranked by stored preferences and rating history."),
			mcp.WithString("user", mcp.Description("User name"), mcp.Required()),
			mcp.WithString("domain", mcp.Description("One of: restaurant, movie, tv"), mcp.Required()),
			mcp.WithNumber("count", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecommend(deps),
	)

	s.AddTool(
		mcp.NewTool("rate_item",
			mcp.WithDescription("Record a rating (1-5) or a dismissal (-1) for a catalog item. Rated and dismissed items are excluded from future recommendations."),
			mcp.WithString("user", mcp.Description("User name"), mcp.Required()),
			mcp.WithString("domain", mcp.Description("One of: restaurant, movie, tv"), mcp.Required()),
			mcp.WithString("external_id", mcp.Description("Provider identifier of the item"), mcp.Required()),
			mcp.WithNumber("value", mcp.Description("Rating 1-5, or -1 to dismiss"), mcp.Required()),
		),
		mcpRateItem(deps),
	)

	s.AddTool(
		mcp.NewTool("set_preference",
			mcp.WithDescription("Update one preference field for a user and domain."),
			mcp.WithString("user", mcp.Description("User name"), mcp.Required()),
			mcp.WithString("domain", mcp.Description("One of: restaurant, movie, tv"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Field key: categories, requirements, languages, providers, min_rating, year_min, year_max, runtime_min, runtime_max"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to set; comma-separated for list fields, empty or \"any\" to clear"), mcp.Required()),
		),
		mcpSetPreference(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"user://preferences",
			"Stored Preferences",
			mcp.WithResourceDescription("All stored user preferences by domain, as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePreferences(deps),
	)

	return s
}

func mcpRecommend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		domain, err := req.RequireString("domain")
		if err != nil {
			return mcpError("domain is required"), nil
		}
		engine, ok := deps.Engines[domain]
		if !ok {
			return mcpError(fmt.Sprintf("unknown domain %q", domain)), nil
		}

		count := req.GetInt("count", deps.Count)
		if count <= 0 {
			count = deps.Count
		}
		if count > 50 {
			count = 50
		}

		user, err := deps.Store.GetUserByName(name)
		if err != nil {
			return mcpError(fmt.Sprintf("unknown user %q", name)), nil
		}

		p, err := deps.Prefs.Get(user.ID, domain)
		if err != nil {
			return mcpError(fmt.Sprintf("loading preferences: %v", err)), nil
		}
		seen, err := deps.Store.ListInteractionEntityIDs(user.ID, domain)
		if err != nil {
			return mcpError(fmt.Sprintf("loading history: %v", err)), nil
		}

		picks, err := engine.Recommend(ctx, user.ID, p, recommend.NewExclusion(seen), count)
		if err != nil {
			return mcpError(fmt.Sprintf("recommendation failed: %v", err)), nil
		}

		items := make([]RecommendationItem, len(picks))
		for i, pick := range picks {
			items[i] = RecommendationItem{
				LocalID:    pick.Entity.LocalID,
				ExternalID: pick.Entity.ExternalID,
				Name:       pick.Entity.Name,
				Score:      pick.Score,
				Rating:     pick.Entity.Rating,
				Year:       pick.Entity.Year,
				Runtime:    pick.Entity.Runtime,
				Categories: pick.Entity.Categories,
				Language:   pick.Entity.Language,
				Address:    pick.Entity.Address,
			}
		}

		b, err := json.Marshal(items)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRateItem(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		domain, err := req.RequireString("domain")
		if err != nil {
			return mcpError("domain is required"), nil
		}
		if !storage.ValidDomain(domain) {
			return mcpError(fmt.Sprintf("unknown domain %q", domain)), nil
		}
		externalID, err := req.RequireString("external_id")
		if err != nil {
			return mcpError("external_id is required"), nil
		}
		value := req.GetInt("value", 0)
		if value < -1 || value == 0 || value > 5 {
			return mcpError("value must be -1 (dismiss) or 1..5 (rating)"), nil
		}

		user, err := deps.Store.GetUserByName(name)
		if err != nil {
			return mcpError(fmt.Sprintf("unknown user %q", name)), nil
		}
		entity, err := deps.Store.GetEntityByExternalID(domain, externalID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return mcpError(fmt.Sprintf("no %s with external id %q in the catalog", domain, externalID)), nil
			}
			return mcpError(fmt.Sprintf("looking up entity: %v", err)), nil
		}

		if err := deps.Store.RecordInteraction(user.ID, domain, entity.LocalID, value); err != nil {
			return mcpError(fmt.Sprintf("recording rating: %v", err)), nil
		}

		if value == -1 {
			return mcpText(fmt.Sprintf("Dismissed %q", entity.Name)), nil
		}
		return mcpText(fmt.Sprintf("Rated %q %d/5", entity.Name, value)), nil
	}
}

func mcpSetPreference(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("user")
		if err != nil {
			return mcpError("user is required"), nil
		}
		domain, err := req.RequireString("domain")
		if err != nil {
			return mcpError("domain is required"), nil
		}
		if !storage.ValidDomain(domain) {
			return mcpError(fmt.Sprintf("unknown domain %q", domain)), nil
		}
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		user, err := deps.Store.GetUserByName(name)
		if err != nil {
			return mcpError(fmt.Sprintf("unknown user %q", name)), nil
		}

		p, err := deps.Prefs.Get(user.ID, domain)
		if err != nil {
			return mcpError(fmt.Sprintf("loading preferences: %v", err)), nil
		}
		if err := ApplyPreferenceField(&p, key, value); err != nil {
			return mcpError(err.Error()), nil
		}
		if err := deps.Prefs.Set(user.ID, domain, p); err != nil {
			return mcpError(fmt.Sprintf("saving preferences: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Set %s = %s for %s/%s", key, value, name, domain)), nil
	}
}

// ApplyPreferenceField sets one named preference field from its string form.
// List fields take comma-separated values; an empty string or "any" clears.
func ApplyPreferenceField(p *prefs.Preferences, key, value string) error {
	switch key {
	case "categories":
		p.Categories = prefs.ParseList(value)
	case "requirements":
		p.Requirements = prefs.ParseList(value)
	case "languages":
		p.Languages = prefs.ParseList(value)
	case "providers":
		p.Providers = prefs.ParseList(value)
	case "min_rating":
		v, err := parseFloatField(key, value)
		if err != nil {
			return err
		}
		p.MinRating = v
	case "year_min":
		v, err := parseIntField(key, value)
		if err != nil {
			return err
		}
		p.Years = prefs.Between(v, p.Years.Max())
	case "year_max":
		v, err := parseIntField(key, value)
		if err != nil {
			return err
		}
		p.Years = prefs.Between(p.Years.Min(), v)
	case "runtime_min":
		v, err := parseIntField(key, value)
		if err != nil {
			return err
		}
		p.Runtime = prefs.Between(v, p.Runtime.Max())
	case "runtime_max":
		v, err := parseIntField(key, value)
		if err != nil {
			return err
		}
		p.Runtime = prefs.Between(p.Runtime.Min(), v)
	default:
		return fmt.Errorf("unknown preference key %q", key)
	}
	return nil
}

func parseFloatField(key, value string) (float64, error) {
	if value == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", key)
	}
	return v, nil
}

func parseIntField(key, value string) (int, error) {
	if value == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return v, nil
}

func mcpResourcePreferences(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		users, err := deps.Store.ListUsers()
		if err != nil {
			return nil, fmt.Errorf("failed to list users: %w", err)
		}

		type userPrefs struct {
			User    string                     `json:"user"`
			Domains map[string]PreferencesView `json:"domains"`
		}

		out := make([]userPrefs, 0, len(users))
		for _, u := range users {
			up := userPrefs{User: u.Name, Domains: make(map[string]PreferencesView)}
			for _, domain := range storage.Domains {
				p, found, err := deps.Store.GetPreferences(u.ID, domain)
				if err != nil {
					return nil, fmt.Errorf("failed to load preferences for %s/%s: %w", u.Name, domain, err)
				}
				if found {
					up.Domains[domain] = ViewFromPreferences(p)
				}
			}
			out = append(out, up)
		}

		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal preferences: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
