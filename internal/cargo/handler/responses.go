package handler

import (
	"cargolink/internal/cargo/models"
	"cargolink/internal/cargotech/client"
)

// ListResponse is the body of GET /api/cargos.
type ListResponse struct {
	Items  []client.Cargo `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
	Stale  bool           `json:"stale"`
}

// DetailResponse is the body of GET /api/cargos/{id}.
type DetailResponse struct {
	client.Cargo
	Note  string `json:"note"`
	Stale bool   `json:"stale"`
}

// PointsResponse is the body of GET /api/points.
type PointsResponse struct {
	Items []client.Point `json:"items"`
	Stale bool           `json:"stale"`
}

func toListResponse(res *models.ListResult) ListResponse {
	return ListResponse{
		Items:  res.Cargos,
		Total:  res.Meta.Total,
		Limit:  res.Meta.Limit,
		Offset: res.Meta.Offset,
		Stale:  res.Stale,
	}
}

func toDetailResponse(res *models.DetailResult) DetailResponse {
	return DetailResponse{
		Cargo: res.Cargo.Cargo,
		Note:  res.Cargo.Note(),
		Stale: res.Stale,
	}
}
