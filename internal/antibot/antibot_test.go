package antibot

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsVocabulary(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"Just a moment...", true},
		{"Verificação de segurança", true},
		{"Checking your browser before accessing", true},
		{"Attention Required! | Cloudflare", true},
		{"Fone de Ouvido Bluetooth JBL Tune 520BT", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ContainsVocabulary(tt.in))
		})
	}
}

func TestIsGatewayURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://shopee.com.br/verify/traffic?anti_bot_tracking_id=1", true},
		{"https://shopee.com.br/buyer/login?next=https%3A%2F%2Fshopee.com.br", true},
		{"https://www.amazon.com.br/errors/validateCaptcha", true},
		{"https://www.mercadolivre.com.br/gz/account-verification?go=x", true},
		{"https://geo.captcha-delivery.com/captcha/?initialCid=1", true},
		{"https://shopee.com.br/product/1/2", false},
		{"https://www.amazon.com.br/dp/B0CHX1W1XY", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGatewayURL(tt.in))
		})
	}
}

func TestIsCaptchaImage(t *testing.T) {
	assert.True(t, IsCaptchaImage("https://cdn.example.com/captcha/img_123.png"))
	assert.True(t, IsCaptchaImage("https://deo.shopeemobile.com/shopee/shopee-pcmall-live-sg/assets/logo.png"))
	assert.True(t, IsCaptchaImage("https://static.example.com/images/logo.svg"))
	assert.False(t, IsCaptchaImage("https://down-br.img.susercontent.com/file/br-11134207-7r98o-abc"))
	assert.False(t, IsCaptchaImage("https://http2.mlstatic.com/D_NQ_NP_123-MLB456-O.webp"))
}

func TestLooksLikeChallenge(t *testing.T) {
	assert.True(t, LooksLikeChallenge("Shopee Brasil", `<div id="px-captcha"></div>`))
	assert.True(t, LooksLikeChallenge("Robot Check", "<html></html>"))
	assert.True(t, LooksLikeChallenge("", `<script>window._cf_chl_opt={cvId:'3',cType:'managed'};</script>`))
	assert.True(t, LooksLikeChallenge("", `<iframe src="https://geo.captcha-delivery.com/captcha/?initialCid=x"></iframe>`))
	assert.False(t, LooksLikeChallenge("Fone JBL", `<html><body><h1>Fone JBL</h1></body></html>`))
}

func TestLooksLikeChallenge_ProductPageScripts(t *testing.T) {
	pages := map[string]string{
		"cloudflare beacon": `<script src="/cdn-cgi/challenge-platform/scripts/jsd/main.js"></script>`,
		"datadome tag":      `<script src="https://js.datadome.co/tags.js"></script><script>window.ddjskey="abc"</script>`,
		"login recaptcha":   `<div class="modal"><div class="g-recaptcha" data-sitekey="x"></div></div>`,
		"hcaptcha widget":   `<div class="h-captcha" data-sitekey="y"></div>`,
	}
	for name, html := range pages {
		t.Run(name, func(t *testing.T) {
			assert.False(t, LooksLikeChallenge("Fone JBL Tune 520BT | Magalu", html))
		})
	}
}

func TestIsBlockStatus(t *testing.T) {
	assert.True(t, IsBlockStatus(http.StatusForbidden))
	assert.True(t, IsBlockStatus(http.StatusTooManyRequests))
	assert.False(t, IsBlockStatus(http.StatusOK))
	assert.False(t, IsBlockStatus(http.StatusNotFound))
}
