package types

import "encoding/json"

// ProductInfo is the product identity portion of a scan snapshot.
type ProductInfo struct {
	Name        string       `json:"name,omitempty"`
	Brand       string       `json:"brand,omitempty"`
	Ingredients []Ingredient `json:"ingredients,omitempty"`
	Images      []ScanImage  `json:"images,omitempty"`
	NetQuantity string       `json:"net_quantity,omitempty"`
}

// Ingredient is one entry of a product's ingredient list. Sub-ingredients
// nest recursively (e.g. "chocolate (cocoa, sugar)").
type Ingredient struct {
	Name        string       `json:"name"`
	Vegan       *bool        `json:"vegan,omitempty"`
	Vegetarian  *bool        `json:"vegetarian,omitempty"`
	Ingredients []Ingredient `json:"ingredients,omitempty"`
}

// ingredientWire carries the object form, with the vegan/vegetarian
// flags as "yes"/"no"/"maybe" strings on some backends.
type ingredientWire struct {
	Name        string       `json:"name"`
	Vegan       any          `json:"vegan"`
	Vegetarian  any          `json:"vegetarian"`
	Ingredients []Ingredient `json:"ingredients"`
}

// UnmarshalJSON accepts both encodings the server has shipped: a bare
// string ("sugar") and an object ({"name": "sugar", ...}).
func (i *Ingredient) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*i = Ingredient{Name: name}
		return nil
	}
	var w ingredientWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*i = Ingredient{
		Name:        w.Name,
		Vegan:       yesNoMaybe(w.Vegan),
		Vegetarian:  yesNoMaybe(w.Vegetarian),
		Ingredients: w.Ingredients,
	}
	return nil
}

// yesNoMaybe folds the historical tri-state string encoding into an
// optional bool. "maybe" and anything unrecognized stay nil.
func yesNoMaybe(v any) *bool {
	switch t := v.(type) {
	case bool:
		return &t
	case string:
		switch t {
		case "yes":
			b := true
			return &b
		case "no":
			b := false
			return &b
		}
	}
	return nil
}

// ScanImage is one image attached to a scan. Inventory images carry a
// URL; user-captured images carry upload state keyed by content hash.
type ScanImage struct {
	Type            string `json:"type,omitempty"` // "inventory" or "user"
	URL             string `json:"url,omitempty"`
	ContentHash     string `json:"content_hash,omitempty"`
	StoragePath     string `json:"storage_path,omitempty"`
	Status          string `json:"status,omitempty"` // pending, processing, processed, failed
	ExtractionError string `json:"extraction_error,omitempty"`
}

// Feedback is user feedback on an analysis.
type Feedback struct {
	Rating  *int        `json:"rating,omitempty"`
	Reasons []string    `json:"reasons,omitempty"`
	Note    string      `json:"note,omitempty"`
	Images  []ImageInfo `json:"images,omitempty"`
}

// ImageInfo references an uploaded image with its client-side extraction.
type ImageInfo struct {
	ImageFileHash string `json:"imageFileHash"`
	ImageOCRText  string `json:"imageOCRText"`
	Barcode       string `json:"barcode,omitempty"`
}
