// Package foundry implements agent.Service over the Assistants-compatible
// REST API exposed by Azure AI Foundry projects and by OpenAI.
package foundry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"foundrychat/internal/agent"
	"foundrychat/internal/logger"
)

const (
	// DefaultScope is the token audience of Azure AI Foundry project endpoints
	DefaultScope = "https://ai.azure.com/.default"
	// DefaultAPIVersion is sent as the api-version query parameter in Azure mode
	DefaultAPIVersion = "v1"

	pageSize = 100
)

// Options configures the service. Setting Credential selects Azure mode,
// where requests carry a bearer token and the api-version parameter;
// otherwise APIKey is used as an OpenAI key.
type Options struct {
	Endpoint   string
	APIVersion string
	APIKey     string
	Credential azcore.TokenCredential
	Scope      string
	HTTPClient *http.Client
	MaxRetries *int
}

// Service talks to the remote agent service through openai-go
type Service struct {
	client openai.Client
}

// New builds a Service from the options
func New(opts Options) (*Service, error) {
	if opts.Credential == nil && opts.APIKey == "" {
		return nil, fmt.Errorf("foundry: either a credential or an API key is required")
	}

	var reqOpts []option.RequestOption
	if opts.Endpoint != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(withTrailingSlash(opts.Endpoint)))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.MaxRetries != nil {
		reqOpts = append(reqOpts, option.WithMaxRetries(*opts.MaxRetries))
	}

	if opts.Credential != nil {
		scope := opts.Scope
		if scope == "" {
			scope = DefaultScope
		}
		apiVersion := opts.APIVersion
		if apiVersion == "" {
			apiVersion = DefaultAPIVersion
		}
		reqOpts = append(reqOpts, option.WithMiddleware(azureAuth(opts.Credential, scope, apiVersion)))
	} else {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}

	logger.Get().Debug().
		Str("endpoint", opts.Endpoint).
		Bool("azure", opts.Credential != nil).
		Msg("Creating agent service client")

	return &Service{client: openai.NewClient(reqOpts...)}, nil
}

// azureAuth stamps every request with a bearer token from cred and the
// api-version query parameter expected by Foundry project endpoints.
func azureAuth(cred azcore.TokenCredential, scope, apiVersion string) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		token, err := cred.GetToken(req.Context(), policy.TokenRequestOptions{Scopes: []string{scope}})
		if err != nil {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token.Token)

		query := req.URL.Query()
		query.Set("api-version", apiVersion)
		req.URL.RawQuery = query.Encode()

		return next(req)
	}
}

// CreateAgent reuses an agent with the same name, model and instructions
// when one exists, and creates it otherwise.
func (s *Service) CreateAgent(ctx context.Context, def agent.AgentDefinition) (agent.Agent, error) {
	log := logger.Get()

	pager := s.client.Beta.Assistants.ListAutoPaging(ctx, openai.BetaAssistantListParams{
		Limit: openai.Int(pageSize),
	})
	for pager.Next() {
		existing := pager.Current()
		if existing.Name == def.Name && existing.Model == def.Model && existing.Instructions == def.Instructions {
			log.Debug().Str("agentId", existing.ID).Msg("Reusing existing agent")
			return toAgent(existing), nil
		}
	}
	if err := pager.Err(); err != nil {
		return agent.Agent{}, fmt.Errorf("list agents: %w", err)
	}

	created, err := s.client.Beta.Assistants.New(ctx, openai.BetaAssistantNewParams{
		Model:        shared.ChatModel(def.Model),
		Name:         openai.String(def.Name),
		Instructions: openai.String(def.Instructions),
	})
	if err != nil {
		return agent.Agent{}, err
	}
	log.Debug().Str("agentId", created.ID).Msg("Created agent")
	return toAgent(*created), nil
}

func (s *Service) CreateThread(ctx context.Context) (agent.Thread, error) {
	thread, err := s.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return agent.Thread{}, err
	}
	return agent.Thread{ID: thread.ID, CreatedAt: unixTime(thread.CreatedAt)}, nil
}

func (s *Service) AppendMessage(ctx context.Context, threadID string, role agent.Role, text string) (agent.Message, error) {
	msg, err := s.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRole(role),
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return agent.Message{}, err
	}
	return toMessage(*msg), nil
}

func (s *Service) StartRun(ctx context.Context, threadID, agentID string) (agent.Run, error) {
	run, err := s.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: agentID,
	})
	if err != nil {
		return agent.Run{}, err
	}
	return toRun(*run), nil
}

func (s *Service) GetRun(ctx context.Context, threadID, runID string) (agent.Run, error) {
	run, err := s.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return agent.Run{}, err
	}
	return toRun(*run), nil
}

func (s *Service) ListMessages(ctx context.Context, threadID string) ([]agent.Message, error) {
	pager := s.client.Beta.Threads.Messages.ListAutoPaging(ctx, threadID, openai.BetaThreadMessageListParams{
		Limit: openai.Int(pageSize),
	})

	var messages []agent.Message
	for pager.Next() {
		messages = append(messages, toMessage(pager.Current()))
	}
	if err := pager.Err(); err != nil {
		return nil, err
	}
	return messages, nil
}

func toAgent(a openai.Assistant) agent.Agent {
	return agent.Agent{
		ID:           a.ID,
		Name:         a.Name,
		Model:        a.Model,
		Instructions: a.Instructions,
	}
}

func toRun(r openai.Run) agent.Run {
	return agent.Run{
		ID:        r.ID,
		ThreadID:  r.ThreadID,
		AgentID:   r.AssistantID,
		Status:    agent.RunStatus(r.Status),
		LastError: r.LastError.Message,
	}
}

func toMessage(m openai.Message) agent.Message {
	parts := make([]agent.ContentPart, 0, len(m.Content))
	for _, content := range m.Content {
		part := agent.ContentPart{Type: agent.PartType(content.Type)}
		if part.Type == agent.PartText {
			part.Text = content.Text.Value
		}
		parts = append(parts, part)
	}

	return agent.Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		Role:      agent.Role(m.Role),
		Content:   parts,
		CreatedAt: unixTime(m.CreatedAt),
	}
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func withTrailingSlash(endpoint string) string {
	if strings.HasSuffix(endpoint, "/") {
		return endpoint
	}
	return endpoint + "/"
}

// Ensure Service implements agent.Service
var _ agent.Service = (*Service)(nil)
