package antibot

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
)

// ErrChallenge marks content that came from an anti-bot interstitial instead
// of the product page.
var ErrChallenge = errors.New("anti-bot challenge detected")

// challengeVocabulary is matched case-insensitively against titles and image
// URLs. Entries cover Portuguese, Spanish, English and the bot-management
// vendors the supported marketplaces sit behind.
var challengeVocabulary = []string{
	"captcha",
	"recaptcha",
	"hcaptcha",
	"verification",
	"verificação",
	"verificacao",
	"verifique",
	"verificar",
	"verificación",
	"just a moment",
	"um momento",
	"un momento",
	"checking your browser",
	"verificando seu navegador",
	"attention required",
	"access denied",
	"acesso negado",
	"acceso denegado",
	"are you a robot",
	"você é um robô",
	"robot check",
	"not a robot",
	"unusual traffic",
	"tráfego incomum",
	"security check",
	"cloudflare",
	"perimeterx",
	"px-captcha",
	"datadome",
	"akamai",
	"imperva",
	"incapsula",
	"geetest",
	"arkose",
	"funcaptcha",
	"kasada",
	"shape security",
}

// gatewayPaths identify known interstitial URLs per marketplace.
var gatewayPaths = []string{
	"/verify/traffic",
	"/verify/captcha",
	"/buyer/login",
	"/account/login",
	"/errors/validatecaptcha",
	"/ap/signin",
	"/gz/account-verification",
	"/jms/mlb/lgz/login",
	"/punish",
	"/_____tmd_____/punish",
	"/cdn-cgi/challenge-platform",
}

var gatewayHosts = []string{
	"geo.captcha-delivery.com",
	"captcha-delivery.com",
	"challenges.cloudflare.com",
	"captcha.perimeterx.net",
	"login.aliexpress.com",
}

// captchaImageSegments are CDN path fragments that serve captcha widgets or
// marketplace logos rather than product imagery.
var captchaImageSegments = []string{
	"captcha",
	"/logo",
	"logo.",
	"logo_",
	"/verify/",
	"/sprite",
	"placeholder",
	"/favicon",
	"/static/images/icons",
	"og-image-default",
	"deo.shopeemobile.com/shopee/shopee-pcmall-live-sg/assets",
	"http2.mlstatic.com/frontend-assets",
	"m.media-amazon.com/images/g/",
}

// htmlMarkers only appear on interstitial pages. Vendor names, bot-management
// beacons (/cdn-cgi/challenge-platform/scripts/jsd) and widget classes such as
// g-recaptcha also ship on ordinary product pages and are left out.
var htmlMarkers = []string{
	"cf_chl_opt",
	"cf-challenge-running",
	"_pxcaptcha",
	`id="px-captcha"`,
	"captcha-delivery.com/captcha",
	"geo.captcha-delivery.com",
	"captchacharacters",
	"/errors/validatecaptcha",
	"/verify/traffic",
	"nc_1_nocaptcha",
	"baxia-punish",
}

// ContainsVocabulary reports whether s contains any challenge keyword.
func ContainsVocabulary(s string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, word := range challengeVocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// IsGatewayURL reports whether the URL is a known anti-bot or login wall.
func IsGatewayURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range gatewayHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	path := strings.ToLower(u.Path)
	for _, p := range gatewayPaths {
		if strings.HasPrefix(path, p) || strings.Contains(path, p+"/") {
			return true
		}
	}
	return false
}

// IsCaptchaImage reports whether an image URL points at captcha or logo
// assets instead of a product photo.
func IsCaptchaImage(imageURL string) bool {
	lower := strings.ToLower(imageURL)
	for _, seg := range captchaImageSegments {
		if strings.Contains(lower, seg) {
			return true
		}
	}
	return ContainsVocabulary(imageURL)
}

// LooksLikeChallenge inspects a fetched page for interstitial signals. Callers
// that can extract should try that first and only consult this when nothing
// usable came out of the page.
func LooksLikeChallenge(title, html string) bool {
	if ContainsVocabulary(title) {
		return true
	}
	lower := strings.ToLower(html)
	for _, marker := range htmlMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// IsBlockStatus reports HTTP statuses marketplaces use to refuse bots.
func IsBlockStatus(code int) bool {
	switch code {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusUnavailableForLegalReasons:
		return true
	}
	return false
}
