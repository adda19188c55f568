package toolserver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vadf/assistant/internal/log"
)

// MaxProducts caps how many product records a single tool result may hand
// to the client.
const MaxProducts = 5

// Product is a normalized product record. Every field is always set; the
// client never has to null-check.
type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Price       string `json:"price"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// rawProduct tolerates the field variants the catalog server emits.
type rawProduct struct {
	ProductID   json.Number `json:"product_id"`
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	ImageURL    string      `json:"image_url"`
	Images      []struct {
		URL string `json:"url"`
	} `json:"images"`
	PriceRange *struct {
		Min      json.Number `json:"min"`
		Max      json.Number `json:"max"`
		Currency string      `json:"currency"`
	} `json:"price_range"`
	Variants []struct {
		Price    json.Number `json:"price"`
		Currency string      `json:"currency"`
	} `json:"variants"`
}

// ExtractProducts decodes a product-search payload into normalized
// records, capped at MaxProducts in input order. Malformed JSON is logged
// and resolves to an empty slice; a bad payload must never fail the turn.
func ExtractProducts(payload string, logger log.Logger) []Product {
	if logger == nil {
		logger = log.NewNop()
	}

	raw := decodeProducts(payload)
	if raw == nil {
		if strings.TrimSpace(payload) != "" {
			logger.Warn("unparseable product payload", "payload_size", len(payload))
		}
		return nil
	}

	if len(raw) > MaxProducts {
		raw = raw[:MaxProducts]
	}

	products := make([]Product, 0, len(raw))
	for _, r := range raw {
		products = append(products, normalize(r))
	}
	return products
}

// decodeProducts accepts either {"products": [...]} or a bare array.
func decodeProducts(payload string) []rawProduct {
	var wrapped struct {
		Products []rawProduct `json:"products"`
	}
	if err := json.Unmarshal([]byte(payload), &wrapped); err == nil && wrapped.Products != nil {
		return wrapped.Products
	}

	var bare []rawProduct
	if err := json.Unmarshal([]byte(payload), &bare); err == nil {
		return bare
	}
	return nil
}

func normalize(r rawProduct) Product {
	p := Product{
		ID:          string(r.ProductID),
		Title:       r.Title,
		Price:       price(r),
		ImageURL:    r.ImageURL,
		Description: r.Description,
		URL:         r.URL,
	}
	if p.ID == "" {
		p.ID = string(r.ID)
	}
	if p.ID == "" {
		p.ID = "inconnu"
	}
	if p.Title == "" {
		p.Title = "Produit sans titre"
	}
	if p.ImageURL == "" && len(r.Images) > 0 {
		p.ImageURL = r.Images[0].URL
	}
	return p
}

// price prefers the price-range minimum, then the first variant price.
func price(r rawProduct) string {
	if r.PriceRange != nil && r.PriceRange.Min != "" {
		return formatPrice(r.PriceRange.Min, r.PriceRange.Currency)
	}
	if len(r.Variants) > 0 && r.Variants[0].Price != "" {
		return formatPrice(r.Variants[0].Price, r.Variants[0].Currency)
	}
	return "Prix non disponible"
}

func formatPrice(amount json.Number, currency string) string {
	if currency == "" {
		currency = "EUR"
	}
	return fmt.Sprintf("%s %s", amount, currency)
}
