package models

// Place is a named location returned by search and kept in recent searches.
// ID is the geohash of the location so two searches for the same point
// collapse to one entry.
type Place struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	Location LatLng `json:"location"`
}

// PlaceWithDistance is a search hit ranked by distance in miles.
type PlaceWithDistance struct {
	Place
	Miles float64 `json:"miles"`
}
