package preview

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-extractor/internal/enrich"
	"github.com/maltedev/marketplace-extractor/internal/logging"
	"github.com/maltedev/marketplace-extractor/internal/models"
)

const (
	microlinkEndpoint   = "https://api.microlink.io/"
	linkPreviewEndpoint = "https://api.linkpreview.net/"
	productURL          = "https://shopee.com.br/product/123456/7890123"
)

type mockOCR struct{ mock.Mock }

func (m *mockOCR) Enabled() bool { return true }

func (m *mockOCR) Price(ctx context.Context, imageURL string) (float64, bool, error) {
	args := m.Called(ctx, imageURL)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

type mockFinder struct{ mock.Mock }

func (m *mockFinder) Enabled() bool { return true }

func (m *mockFinder) FindPrice(ctx context.Context, title string, mp models.Marketplace) (enrich.Match, bool, error) {
	args := m.Called(ctx, title, mp)
	return args.Get(0).(enrich.Match), args.Bool(1), args.Error(2)
}

func TestPreview_NativeAcceptedWithOCRPrice(t *testing.T) {
	ocr := new(mockOCR)
	ocr.On("Price", mock.Anything, "https://cf.shopee.com.br/file/abc").Return(149.90, true, nil)

	s := NewService(nil, ocr, nil, logging.Discard())
	rec, err := s.Preview(context.Background(), productURL, &Native{
		Title:    "Fone Bluetooth TWS Pro",
		ImageURL: "https://cf.shopee.com.br/file/abc",
	}, models.Options{OriginalURL: "https://shope.ee/abc"})
	require.NoError(t, err)

	assert.Equal(t, "Fone Bluetooth TWS Pro", rec.Title)
	assert.Equal(t, "https://shope.ee/abc", rec.ProductURL)
	assert.Equal(t, models.MarketplaceShopee, rec.Marketplace)
	assert.InDelta(t, 149.90, *rec.Price, 0.001)
	ocr.AssertExpectations(t)
}

func TestPreview_OCRMissFallsBackToSearch(t *testing.T) {
	ocr := new(mockOCR)
	ocr.On("Price", mock.Anything, mock.Anything).Return(0.0, false, nil)
	finder := new(mockFinder)
	finder.On("FindPrice", mock.Anything, "Fone Bluetooth TWS Pro", models.MarketplaceShopee).
		Return(enrich.Match{Price: 139.90, Engine: "serpapi"}, true, nil)

	s := NewService(nil, ocr, finder, logging.Discard())
	rec, err := s.Preview(context.Background(), productURL, &Native{
		Title:    "Fone Bluetooth TWS Pro",
		ImageURL: "https://cf.shopee.com.br/file/abc",
	}, models.Options{})
	require.NoError(t, err)
	assert.InDelta(t, 139.90, *rec.Price, 0.001)
	finder.AssertExpectations(t)
}

func TestPreview_ChainedProviders(t *testing.T) {
	transport := httpmock.NewMockTransport()

	micro := NewMicrolink(ProviderOptions{Endpoint: microlinkEndpoint})
	micro.WithTransport(transport)
	lp := NewLinkPreview(ProviderOptions{APIKey: "lp-key", Endpoint: linkPreviewEndpoint})
	lp.WithTransport(transport)

	// microlink answers with the marketplace home page, which the gate refuses
	transport.RegisterResponder("GET", microlinkEndpoint, httpmock.NewStringResponder(200, `{
		"status": "success",
		"data": {"title": "Shopee Brasil", "image": {"url": "https://cf.shopee.com.br/file/home.png"}}
	}`))
	transport.RegisterResponder("GET", linkPreviewEndpoint, func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "lp-key", req.Header.Get("X-Linkpreview-Api-Key"))
		assert.Equal(t, productURL, req.URL.Query().Get("q"))
		return httpmock.NewStringResponse(200, `{
			"title": "Fone Bluetooth TWS Pro",
			"description": "Som estéreo",
			"image": "https://cf.shopee.com.br/file/abc"
		}`), nil
	})

	s := NewService(nil, nil, nil, logging.Discard(), micro, lp)
	rec, err := s.Preview(context.Background(), productURL, nil, models.Options{
		Fields: []models.Field{models.FieldRating},
	})
	require.NoError(t, err)

	assert.Equal(t, "Fone Bluetooth TWS Pro", rec.Title)
	assert.Empty(t, rec.Description, "description was not requested")
	assert.False(t, rec.HasPrice())
}

func TestPreview_AllRejected(t *testing.T) {
	s := NewService(nil, nil, nil, logging.Discard())

	_, err := s.Preview(context.Background(), productURL, &Native{
		Title:    "Verificação de segurança",
		ImageURL: "https://cf.shopee.com.br/file/abc",
	}, models.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAntiBotBlock))

	_, err = s.Preview(context.Background(), productURL, nil, models.Options{})
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
