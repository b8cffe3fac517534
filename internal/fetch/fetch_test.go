package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/marketplace-extractor/internal/logging"
	"github.com/maltedev/marketplace-extractor/internal/models"
	"github.com/maltedev/marketplace-extractor/internal/sessions"
)

const productURL = "https://produto.mercadolivre.com.br/MLB-1234567890-fone"

func newTestFetcher(t *testing.T, store sessions.Store) (*Fetcher, *httpmock.MockTransport) {
	t.Helper()
	f := New(Options{
		Timeout:        5 * time.Second,
		UserAgents:     []string{"agent-a", "agent-b"},
		AcceptLanguage: "pt-BR,pt;q=0.9",
	}, store, nil, logging.Discard())
	transport := httpmock.NewMockTransport()
	f.WithTransport(transport)
	return f, transport
}

func TestGet_Success(t *testing.T) {
	store := sessions.NewMemoryStore()
	require.NoError(t, store.Save(models.MarketplaceMercadoLivre, &sessions.State{
		Cookies: []sessions.Cookie{
			{Name: "_d2id", Value: "abc", Domain: ".mercadolivre.com.br", Path: "/"},
			{Name: "IDE", Value: "tracker", Domain: ".doubleclick.net", Path: "/"},
		},
	}))

	f, transport := newTestFetcher(t, store)

	var gotUA, gotLang, gotCookie string
	transport.RegisterResponder("GET", productURL, func(req *http.Request) (*http.Response, error) {
		gotUA = req.Header.Get("User-Agent")
		gotLang = req.Header.Get("Accept-Language")
		gotCookie = req.Header.Get("Cookie")
		return httpmock.NewStringResponse(200, "<html><title>Fone</title></html>"), nil
	})

	page, err := f.Get(context.Background(), models.MarketplaceMercadoLivre, productURL)
	require.NoError(t, err)

	assert.Contains(t, page.HTML, "<title>Fone</title>")
	assert.Equal(t, 200, page.StatusCode)
	assert.Equal(t, productURL, page.URL)
	assert.Equal(t, "agent-a", gotUA)
	assert.Equal(t, "pt-BR,pt;q=0.9", gotLang)
	assert.Equal(t, "_d2id=abc", gotCookie)
}

func TestGet_RotatesUserAgents(t *testing.T) {
	f, _ := newTestFetcher(t, nil)

	assert.Equal(t, "agent-a", f.UserAgent())
	assert.Equal(t, "agent-b", f.UserAgent())
	assert.Equal(t, "agent-a", f.UserAgent())
}

func TestGet_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		want      error
	}{
		{
			name:      "forbidden is anti-bot",
			responder: httpmock.NewStringResponder(403, "denied"),
			want:      models.ErrAntiBotBlock,
		},
		{
			name:      "too many requests is anti-bot",
			responder: httpmock.NewStringResponder(429, "slow down"),
			want:      models.ErrAntiBotBlock,
		},
		{
			name:      "not found",
			responder: httpmock.NewStringResponder(404, "gone"),
			want:      models.ErrNotFound,
		},
		{
			name:      "server error is transient",
			responder: httpmock.NewStringResponder(503, "down"),
			want:      models.ErrTransientNetwork,
		},
		{
			name:      "timeout is transient",
			responder: httpmock.NewErrorResponder(context.DeadlineExceeded),
			want:      models.ErrTransientNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, transport := newTestFetcher(t, nil)
			transport.RegisterResponder("GET", productURL, tt.responder)

			_, err := f.Get(context.Background(), models.MarketplaceMercadoLivre, productURL)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestGet_GatewayURLIsBlock(t *testing.T) {
	f, transport := newTestFetcher(t, nil)
	gateway := "https://shopee.com.br/verify/traffic"
	transport.RegisterResponder("GET", gateway, httpmock.NewStringResponder(200, "<html></html>"))

	_, err := f.Get(context.Background(), models.MarketplaceShopee, gateway)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrAntiBotBlock))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil, 0, ""))

	err := Classify(nil, 418, "https://x")
	var status *StatusError
	require.True(t, errors.As(err, &status))
	assert.Equal(t, 418, status.StatusCode)

	err = Classify(nil, 451, "https://x")
	assert.True(t, errors.Is(err, models.ErrAntiBotBlock))
	require.True(t, errors.As(err, &status))
	assert.Equal(t, 451, status.StatusCode)
}

func TestGetJSON(t *testing.T) {
	transport := httpmock.NewMockTransport()
	client := &http.Client{Transport: transport}

	transport.RegisterResponder("GET", "https://api.example.com/items/1",
		httpmock.NewStringResponder(200, `{"id":"1","title":"Item"}`))
	transport.RegisterResponder("GET", "https://api.example.com/items/2",
		httpmock.NewStringResponder(404, `{"message":"not found"}`))

	var out struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	require.NoError(t, GetJSON(context.Background(), client, "https://api.example.com/items/1", nil, &out))
	assert.Equal(t, "Item", out.Title)

	err := GetJSON(context.Background(), client, "https://api.example.com/items/2", nil, &out)
	assert.True(t, errors.Is(err, models.ErrNotFound))
}
