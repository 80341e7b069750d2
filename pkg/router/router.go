package router

import (
	"fmt"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/config"
)

// Route is one provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
}

// Router resolves a requested model or alias to an ordered fallback chain.
type Router struct {
	providers map[string]config.ProviderConfig
	first     config.ProviderConfig
	routes    map[string][]config.RouteTarget
}

// New indexes the providers and routes of cfg.
func New(cfg *config.Config) (*Router, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}
	r := &Router{
		providers: make(map[string]config.ProviderConfig, len(cfg.Providers)),
		first:     cfg.Providers[0],
		routes:    make(map[string][]config.RouteTarget, len(cfg.Router.Routes)),
	}
	for _, p := range cfg.Providers {
		r.providers[p.Name] = p
	}
	for _, route := range cfg.Router.Routes {
		r.routes[route.Model] = route.Targets
	}
	return r, nil
}

// Resolve returns the chain configured for model. An unrouted model goes to
// the first provider unchanged. Targets naming an unknown provider are skipped.
func (r *Router) Resolve(model string) ([]Route, error) {
	targets, ok := r.routes[model]
	if !ok {
		return []Route{{Provider: r.first, Model: model}}, nil
	}

	var out []Route
	for _, t := range targets {
		p, ok := r.providers[t.Provider]
		if !ok {
			continue
		}
		m := t.Model
		if m == "" {
			m = model
		}
		out = append(out, Route{Provider: p, Model: m})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("route %q: all providers unknown", model)
	}
	return out, nil
}
