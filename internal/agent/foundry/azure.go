package foundry

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"foundrychat/internal/agent"
	"foundrychat/internal/logger"
)

// NewAzure connects to an Azure AI Foundry project endpoint using the ambient
// Azure identity (environment, workload identity, managed identity, Azure CLI).
func NewAzure(endpoint, apiVersion string) (*Service, error) {
	if endpoint == "" {
		return nil, agent.ErrEndpointRequired
	}

	credential, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		logger.Get().Error().Err(err).Msg("Failed to resolve Azure credentials")
		return nil, fmt.Errorf("resolve azure credentials: %w", err)
	}

	svc, err := New(Options{
		Endpoint:   endpoint,
		APIVersion: apiVersion,
		Credential: credential,
	})
	if err != nil {
		return nil, err
	}
	logger.Get().Info().Str("endpoint", endpoint).Msg("Successfully initialized Azure AI Foundry client")
	return svc, nil
}
