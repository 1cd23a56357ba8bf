package models

// ProviderKey is the composite identifier of a provider: the id of the
// care location plus the id of the institution operating it.
type ProviderKey struct {
	LocationID    int64 `json:"locationId"`
	InstitutionID int64 `json:"institutionId"`
}

// Provider is one healthcare provider record as persisted for a refresh
// cycle. Records are immutable within a cycle and replaced wholesale by
// the next successful refresh.
type Provider struct {
	LocationID    int64 `json:"locationId"`
	InstitutionID int64 `json:"institutionId"`

	Title          string     `json:"title"`
	Street         string     `json:"street"`
	HouseNumber    string     `json:"houseNumber"`
	City           string     `json:"city"`
	PostalCode     string     `json:"postalCode"`
	Categories     []Category `json:"category"`
	Specialization string     `json:"specialization"`
	Lat            float64    `json:"lat"`
	Lng            float64    `json:"lng"`

	InstitutionType string `json:"institutionType"`
	PhoneNumber     string `json:"phoneNumber"`
	Fax             string `json:"fax"`
	Email           string `json:"email"`
	Website         string `json:"website"`
	Ico             string `json:"ico"`
	CareForm        string `json:"careForm"`
	CareType        string `json:"careType"`
	Substitute      string `json:"substitute"`
}

// Key returns the composite key of the provider.
func (p *Provider) Key() ProviderKey {
	return ProviderKey{LocationID: p.LocationID, InstitutionID: p.InstitutionID}
}

// Summary projects the provider to the simplified shape serialized into
// the published snapshot archive.
func (p *Provider) Summary() *ProviderSummary {
	categories := make([]string, 0, len(p.Categories))
	for _, c := range p.Categories {
		categories = append(categories, string(c))
	}

	return &ProviderSummary{
		LocationID:     p.LocationID,
		InstitutionID:  p.InstitutionID,
		Title:          p.Title,
		Street:         p.Street,
		HouseNumber:    p.HouseNumber,
		City:           p.City,
		PostalCode:     p.PostalCode,
		Category:       categories,
		Specialization: p.Specialization,
		Lat:            p.Lat,
		Lng:            p.Lng,
	}
}

// ProviderSummary is the simplified provider projection written to the
// bulk-download snapshot.
type ProviderSummary struct {
	LocationID     int64    `json:"locationId"`
	InstitutionID  int64    `json:"institutionId"`
	Title          string   `json:"title"`
	Street         string   `json:"street"`
	HouseNumber    string   `json:"houseNumber"`
	City           string   `json:"city"`
	PostalCode     string   `json:"postalCode"`
	Category       []string `json:"category"`
	Specialization string   `json:"specialization"`
	Lat            float64  `json:"lat"`
	Lng            float64  `json:"lng"`
}
