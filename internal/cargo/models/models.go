package models

import "cargolink/internal/cargotech/client"

// ListResult is one page of listings for a user.
type ListResult struct {
	Cargos []client.Cargo
	Meta   client.ListMeta
	Stale  bool
}

// DetailResult is a single listing.
type DetailResult struct {
	Cargo client.CargoDetail
	Stale bool
}

// PointsResult is a dictionary search result.
type PointsResult struct {
	Points []client.Point
	Stale  bool
}

// CargoStatusEvent is the body of the CargoTech status webhook.
type CargoStatusEvent struct {
	CargoID int64  `json:"cargo_id" validate:"required,gt=0"`
	Status  string `json:"status,omitempty"`
}
