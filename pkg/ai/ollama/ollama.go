package ollama

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/OFFIS-RIT/medrag/pkg/ai"

	"github.com/ollama/ollama/api"
)

// Client implements ai.Completer and ai.Embedder with a locally hosted
// Ollama server.
type Client struct {
	chatModel      string
	embeddingModel string
	dimension      int
	maxTokenSize   int
	temperature    float64
	timeout        time.Duration

	usage ai.Usage

	Client *api.Client
}

// NewClientParams contains configuration options for creating a Client.
type NewClientParams struct {
	ChatModel      string
	EmbeddingModel string
	Dimension      int
	MaxTokenSize   int
	Temperature    float64
	Timeout        time.Duration

	BaseURL string
	APIKey  string
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient connects to the Ollama server at BaseURL, or to the default
// address taken from OLLAMA_HOST when BaseURL is empty.
func NewClient(params NewClientParams) (*Client, error) {
	var u *url.URL
	if params.BaseURL != "" {
		parsed, err := url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
		u = parsed
	}

	var cli *api.Client
	if u != nil {
		httpClient := http.DefaultClient
		if params.APIKey != "" {
			httpClient = &http.Client{
				Transport: &headerTransport{
					headers: map[string]string{"Authorization": "Bearer " + params.APIKey},
					rt:      http.DefaultTransport,
				},
			}
		}
		cli = api.NewClient(u, httpClient)
	} else {
		env, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
		cli = env
	}

	if params.Timeout <= 0 {
		params.Timeout = 10 * time.Minute
	}
	if params.MaxTokenSize <= 0 {
		params.MaxTokenSize = 8192
	}

	return &Client{
		chatModel:      params.ChatModel,
		embeddingModel: params.EmbeddingModel,
		dimension:      params.Dimension,
		maxTokenSize:   params.MaxTokenSize,
		temperature:    params.Temperature,
		timeout:        params.Timeout,
		Client:         cli,
	}, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return &ai.StatusError{StatusCode: statusErr.StatusCode, Err: err}
	}
	return err
}

// Metrics returns the usage accumulated by this client.
func (c *Client) Metrics() ai.ModelMetrics { return c.usage.Snapshot() }
