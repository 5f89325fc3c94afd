package tools

import (
	"github.com/codalite/coda/internal/fetch"
	"github.com/codalite/coda/internal/search"
)

// RegisterWebTools adds web_search and web_fetch to r. These are
// generic capability tools outside the voice-assistant's core domain,
// so they're registered separately from RegisterBuiltins and only when
// the caller has actually configured a search provider / fetcher.
func RegisterWebTools(r *Registry, mgr *search.Manager, fetcher *fetch.Fetcher) error {
	if mgr != nil {
		if err := r.Register(&Tool{
			Name:        "web_search",
			Category:    "web",
			Description: "Searches the web and returns a list of results.",
			Example:     `web_search(query="weather in Portland")`,
			Parameters:  search.ToolDefinition(),
			Handler:     search.ToolHandler(mgr),
		}); err != nil {
			return err
		}
	}
	if fetcher != nil {
		if err := r.Register(&Tool{
			Name:        "web_fetch",
			Category:    "web",
			Description: "Fetches a URL and extracts its readable content.",
			Example:     `web_fetch(url="https://example.com")`,
			Parameters:  fetch.ToolDefinition(),
			Handler:     fetch.ToolHandler(fetcher),
		}); err != nil {
			return err
		}
	}
	return nil
}
