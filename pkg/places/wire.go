package places

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// optString decodes any JSON value, keeping only non-empty strings.
type optString struct {
	v *string
}

func (o *optString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil && s != "" {
		o.v = &s
	}
	return nil
}

// optFloat decodes numbers and numeric strings; anything else is absent.
type optFloat struct {
	v *float64
}

func (o *optFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		o.v = &f
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			o.v = &parsed
		}
	}
	return nil
}

type apiStatus struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

type searchResponse struct {
	apiStatus
	NextPageToken string         `json:"next_page_token"`
	Results       []searchResult `json:"results"`
}

type searchResult struct {
	PlaceID          optString `json:"place_id"`
	Name             optString `json:"name"`
	FormattedAddress optString `json:"formatted_address"`
	Rating           optFloat  `json:"rating"`
}

type detailResponse struct {
	apiStatus
	Result detailResult `json:"result"`
}

type detailResult struct {
	Name                     optString `json:"name"`
	FormattedAddress         optString `json:"formatted_address"`
	FormattedPhoneNumber     optString `json:"formatted_phone_number"`
	InternationalPhoneNumber optString `json:"international_phone_number"`
	Website                  optString `json:"website"`
	Rating                   optFloat  `json:"rating"`
}
