package cache

import (
	"strconv"
	"strings"
)

// ListKey is the list-tier key of one user's filtered page.
func ListKey(userID int64, queryHash string) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":list:" + queryHash
}

// UserListPattern matches every list page cached for userID.
func UserListPattern(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10) + ":list:*"
}

// AllPattern matches every key of a tier.
const AllPattern = "*"

// DetailKey is the detail-tier key of a cargo.
func DetailKey(cargoID int64) string {
	return "cargo:" + strconv.FormatInt(cargoID, 10)
}

// PointsKey is the reference-tier key of a point search.
func PointsKey(name string) string {
	return "points:" + strings.ToLower(strings.TrimSpace(name))
}
