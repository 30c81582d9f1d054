package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// ModelAvailable lists the models pulled on the Ollama server at baseURL and
// reports whether model is among them. "qwen" matches "qwen:0.5b" and vice
// versa, since tags are often omitted.
func ModelAvailable(ctx context.Context, baseURL, model string, httpClient *http.Client) (bool, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false, fmt.Errorf("invalid Ollama URL %q: %w", baseURL, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := api.NewClient(u, httpClient).List(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to list models: %w", err)
	}

	want := baseName(model)
	for _, m := range resp.Models {
		for _, name := range []string{m.Name, m.Model} {
			if name == "" {
				continue
			}
			if name == model || baseName(name) == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func baseName(model string) string {
	name, _, _ := strings.Cut(model, ":")
	return name
}
