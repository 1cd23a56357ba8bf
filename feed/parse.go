package feed

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"provider-directory/models"
)

// ParseError reports a malformed upstream dataset.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("feed: parse: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Columns the feed must carry. Any additional columns are ignored.
var requiredColumns = []string{
	"location_id", "institution_id", "title", "street", "house_number",
	"city", "postal_code", "categories", "specialization",
	"latitude", "longitude", "institution_type", "phone", "fax",
	"email", "website", "ico", "care_form", "care_type", "substitute",
}

// Parser converts the raw CSV dataset into provider records. Columns are
// resolved by header name, so upstream column reordering is harmless.
type Parser struct{}

// NewParser creates a Parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes the raw feed bytes. Rows whose composite key does not
// parse are dropped; a structurally broken CSV fails with a ParseError.
func (p *Parser) Parse(raw []byte) ([]*models.Provider, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, &ParseError{Err: fmt.Errorf("read header: %w", err)}
	}

	idx, err := columnIndex(header)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	var providers []*models.Provider
	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &ParseError{Err: fmt.Errorf("read row: %w", err)}
		}

		provider, ok := p.parseRow(row, idx)
		if !ok {
			continue
		}
		providers = append(providers, provider)
	}

	return providers, nil
}

func (p *Parser) parseRow(row []string, idx map[string]int) (*models.Provider, bool) {
	field := func(name string) string {
		i := idx[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	locationID, err := strconv.ParseInt(field("location_id"), 10, 64)
	if err != nil {
		return nil, false
	}
	institutionID, err := strconv.ParseInt(field("institution_id"), 10, 64)
	if err != nil {
		return nil, false
	}

	lat, _ := strconv.ParseFloat(field("latitude"), 64)
	lng, _ := strconv.ParseFloat(field("longitude"), 64)

	return &models.Provider{
		LocationID:    locationID,
		InstitutionID: institutionID,

		Title:          field("title"),
		Street:         field("street"),
		HouseNumber:    field("house_number"),
		City:           field("city"),
		PostalCode:     field("postal_code"),
		Categories:     models.SplitCategories(field("categories")),
		Specialization: field("specialization"),
		Lat:            lat,
		Lng:            lng,

		InstitutionType: field("institution_type"),
		PhoneNumber:     field("phone"),
		Fax:             field("fax"),
		Email:           field("email"),
		Website:         field("website"),
		Ico:             field("ico"),
		CareForm:        field("care_form"),
		CareType:        field("care_type"),
		Substitute:      field("substitute"),
	}, true
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, name := range requiredColumns {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return idx, nil
}
