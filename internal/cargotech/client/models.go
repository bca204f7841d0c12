package client

import "encoding/json"

// Point is a settlement from the upstream dictionary.
type Point struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Region string  `json:"region,omitempty"`
	Lat    float64 `json:"lat,omitempty"`
	Lon    float64 `json:"lon,omitempty"`
}

// Money is an upstream price.
type Money struct {
	Value    json.Number `json:"value"`
	Currency string      `json:"currency"`
}

// Contact is the shipper contact included with include=contacts.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// Cargo is one freight listing as returned by the list endpoint.
type Cargo struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Status   string    `json:"status"`
	From     Point     `json:"from"`
	To       Point     `json:"to"`
	LoadDate string    `json:"load_date,omitempty"`
	Weight   float64   `json:"weight"`
	Volume   float64   `json:"volume"`
	Price    *Money    `json:"price,omitempty"`
	Contacts []Contact `json:"contacts,omitempty"`
}

// CargoExtra holds detail-only fields.
type CargoExtra struct {
	Note string `json:"note"`
}

// CargoDetail is a listing with the comment text only the detail endpoint returns.
type CargoDetail struct {
	Cargo
	Extra CargoExtra `json:"extra"`
}

// Note returns the listing comment.
func (d CargoDetail) Note() string {
	return d.Extra.Note
}

// ListMeta describes the page returned by the list endpoint.
type ListMeta struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// CargoList is one page of listings.
type CargoList struct {
	Data []Cargo  `json:"data"`
	Meta ListMeta `json:"meta"`
}

type detailEnvelope struct {
	Data CargoDetail `json:"data"`
}

type pointsEnvelope struct {
	Data []Point `json:"data"`
}
