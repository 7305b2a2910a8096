package embedding

import (
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/bull/flc-rag/internal/config"
)

// Client wraps the OpenAI client shared by embedding and chat requests.
type Client struct {
	client *openai.Client
}

// NewClient creates an OpenAI client from cfg. When an Azure endpoint is
// configured requests go to Azure OpenAI and model names are deployment names.
// The SDK's own retries are disabled; callers retry with backoff.
func NewClient(cfg config.OpenAIConfig, opts ...option.RequestOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}

	var base []option.RequestOption
	if cfg.AzureEndpoint != "" {
		base = append(base,
			azure.WithEndpoint(cfg.AzureEndpoint, cfg.AzureAPIVersion),
			azure.WithAPIKey(cfg.APIKey),
		)
	} else {
		base = append(base, option.WithAPIKey(cfg.APIKey))
	}
	base = append(base, option.WithMaxRetries(0))

	client := openai.NewClient(append(base, opts...)...)
	return &Client{client: &client}, nil
}

// Client returns the underlying OpenAI client for use in other packages (e.g., the llm client).
func (c *Client) Client() *openai.Client {
	return c.client
}
