package extractor

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-extractor/internal/logging"
	"github.com/maltedev/marketplace-extractor/internal/marketapi"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/quality"
	"github.com/maltedev/marketplace-extractor/internal/strategy"
)

const itemResponse = `{
	"error": null,
	"data": {
		"item": {
			"itemid": 456,
			"shopid": 123,
			"name": "Fone Bluetooth TWS Pro",
			"price": 4990000,
			"image": "br-11134207-abc123",
			"stock": 3
		}
	}
}`

// newAPIChain wires a real executor around the Shopee item API strategy.
func newAPIChain(t *testing.T) (*strategy.Executor, *httpmock.MockTransport) {
	t.Helper()
	logger := logging.Discard()

	client := marketapi.New(marketapi.Options{}, nil, nil, nil, logger)
	transport := httpmock.NewMockTransport()
	client.WithTransport(transport)
	transport.RegisterResponder("GET", "https://shopee.com.br/product/123/456",
		httpmock.NewStringResponder(200, "<html></html>"))

	registry := strategy.NewRegistry(strategy.NewAPI(client))
	return strategy.NewExecutor(registry, quality.NewGate(logger), nil, nil, logger), transport
}

func TestExtract_RetryCodeVariantIsInvisibleToCaller(t *testing.T) {
	chain, transport := newAPIChain(t)
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/item/get",
		httpmock.NewStringResponder(200, `{"error":90309999,"error_msg":"anti crawler"}`))
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/pdp/get_pc",
		httpmock.NewStringResponder(200, itemResponse))

	sink := &mockSink{}
	sink.On("Accepted", mock.Anything, mock.MatchedBy(func(r models.ExtractionReport) bool {
		return r.Success() && r.Strategy == strategy.NameAPI && r.Attempts == 1
	}), mock.Anything).Return(nil)

	svc := New(Deps{
		Resolver: &fakeResolver{resolved: shopeeResolved},
		Chain:    chain,
		Sink:     sink,
		Logger:   logging.Discard(),
	})
	result := svc.Extract(context.Background(), "https://s.shopee.com.br/abc123", models.Options{})

	require.True(t, result.Success)
	assert.Empty(t, result.Error)
	require.NotNil(t, result.Data)
	assert.Equal(t, "Fone Bluetooth TWS Pro", result.Data.Title)
	require.NotNil(t, result.Data.Price)
	assert.InDelta(t, 49.90, *result.Data.Price, 0.001)
	assert.Equal(t, "https://s.shopee.com.br/abc123", result.Data.ProductURL)

	info := transport.GetCallCountInfo()
	assert.Equal(t, 1, info["GET https://shopee.com.br/api/v4/item/get"])
	assert.Equal(t, 1, info["GET https://shopee.com.br/api/v4/pdp/get_pc"])
	sink.AssertExpectations(t)
}

func TestExtract_EveryVariantRefused(t *testing.T) {
	chain, transport := newAPIChain(t)
	refused := httpmock.NewStringResponder(200, `{"error":90309999}`)
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/item/get", refused)
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v4/pdp/get_pc", refused)
	transport.RegisterResponder("GET", "https://shopee.com.br/api/v2/item/get", refused)

	svc := New(Deps{Resolver: &fakeResolver{resolved: shopeeResolved}, Chain: chain, Logger: logging.Discard()})
	result := svc.Extract(context.Background(), "https://s.shopee.com.br/abc123", models.Options{})

	assert.False(t, result.Success)
	assert.Nil(t, result.Data)
	assert.Equal(t, MessageBlocked, result.Error)
	assert.NotContains(t, result.Error, "90309999")
}
