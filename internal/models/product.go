package models

import (
	"time"
)

type Marketplace string

const (
	MarketplaceShopee       Marketplace = "shopee"
	MarketplaceMercadoLivre Marketplace = "mercadolivre"
	MarketplaceAmazon       Marketplace = "amazon"
	MarketplaceMagalu       Marketplace = "magalu"
	MarketplaceAliExpress   Marketplace = "aliexpress"
	MarketplaceUnknown      Marketplace = "unknown"
)

// Marketplaces lists every recognized tag in registry order.
func Marketplaces() []Marketplace {
	return []Marketplace{
		MarketplaceShopee,
		MarketplaceMercadoLivre,
		MarketplaceAmazon,
		MarketplaceMagalu,
		MarketplaceAliExpress,
		MarketplaceUnknown,
	}
}

// Identity is the marketplace-native identifier of a product. ShopID is only
// set for marketplaces that address items by a shop/item pair.
type Identity struct {
	ShopID string `json:"shop_id,omitempty"`
	ItemID string `json:"item_id"`
}

func (i Identity) IsZero() bool {
	return i.ItemID == ""
}

// Candidate is an unvalidated product extracted by one strategy. Optional
// numeric fields are pointers so "absent" and "zero" stay distinguishable.
type Candidate struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Price         *float64 `json:"price,omitempty"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	ImageURL      string   `json:"image_url"`
	Rating        *float64 `json:"rating,omitempty"`
	ReviewCount   *int     `json:"review_count,omitempty"`
	SalesQuantity *int     `json:"sales_quantity,omitempty"`
	Seller        string   `json:"seller,omitempty"`
	InStock       *bool    `json:"in_stock,omitempty"`
	Source        string   `json:"source,omitempty"`
}

// HasPrice reports whether a positive price was extracted.
func (c *Candidate) HasPrice() bool {
	return c != nil && c.Price != nil && *c.Price > 0
}

// Merge fills empty fields of c from other. Fields already set on c win.
func (c *Candidate) Merge(other *Candidate) {
	if other == nil {
		return
	}
	if c.Title == "" {
		c.Title = other.Title
	}
	if c.Description == "" {
		c.Description = other.Description
	}
	if c.Price == nil {
		c.Price = other.Price
	}
	if c.OriginalPrice == nil {
		c.OriginalPrice = other.OriginalPrice
	}
	if c.ImageURL == "" {
		c.ImageURL = other.ImageURL
	}
	if c.Rating == nil {
		c.Rating = other.Rating
	}
	if c.ReviewCount == nil {
		c.ReviewCount = other.ReviewCount
	}
	if c.SalesQuantity == nil {
		c.SalesQuantity = other.SalesQuantity
	}
	if c.Seller == "" {
		c.Seller = other.Seller
	}
	if c.InStock == nil {
		c.InStock = other.InStock
	}
}

// ProductRecord is the accepted, normalized output of the pipeline. Only the
// quality gate builds it.
type ProductRecord struct {
	Title              string      `json:"title"`
	Description        string      `json:"description,omitempty"`
	Price              *float64    `json:"price,omitempty"`
	OriginalPrice      *float64    `json:"original_price,omitempty"`
	DiscountPercentage *int        `json:"discount_percentage,omitempty"`
	ImageURL           string      `json:"image_url"`
	ProductURL         string      `json:"product_url"`
	Marketplace        Marketplace `json:"marketplace"`
	Rating             *float64    `json:"rating,omitempty"`
	ReviewCount        *int        `json:"review_count,omitempty"`
	SalesQuantity      *int        `json:"sales_quantity,omitempty"`
	Seller             string      `json:"seller,omitempty"`
	InStock            bool        `json:"in_stock"`
	ScrapedAt          time.Time   `json:"scraped_at"`
}

func (p *ProductRecord) HasPrice() bool {
	return p != nil && p.Price != nil && *p.Price > 0
}

type Result struct {
	Success bool           `json:"success"`
	Data    *ProductRecord `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

func Bool(v bool) *bool { return &v }
