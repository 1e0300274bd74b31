package geo

import (
	"sort"
	"strings"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/mmcloughlin/geohash"

	"github.com/aditya/ridelink/internal/models"
)

// PlaceIDPrecision gives cells of roughly 5m, enough to tell two pickup
// points on the same street apart.
const PlaceIDPrecision = 9

// PlaceID derives the stable id of a location.
func PlaceID(p models.LatLng) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, PlaceIDPrecision)
}

// NewPlace builds a place whose id is derived from its location.
func NewPlace(name, address string, p models.LatLng) models.Place {
	return models.Place{ID: PlaceID(p), Name: name, Address: address, Location: p}
}

// CairoPlaces is the built-in place list used for search and reverse lookups.
var CairoPlaces = []models.Place{
	NewPlace("Tahrir Square", "Tahrir Square, Downtown, Cairo", models.LatLng{Lat: 30.0444, Lng: 31.2357}),
	NewPlace("Egyptian Museum", "Midan El Tahrir, Downtown, Cairo", models.LatLng{Lat: 30.0478, Lng: 31.2336}),
	NewPlace("Cairo Tower", "Zamalek, Gezira Island, Cairo", models.LatLng{Lat: 30.0459, Lng: 31.2243}),
	NewPlace("Ramses Station", "Ramses Square, Cairo", models.LatLng{Lat: 30.0626, Lng: 31.2467}),
	NewPlace("Khan el-Khalili", "El-Gamaleya, Old Cairo", models.LatLng{Lat: 30.0477, Lng: 31.2623}),
	NewPlace("Al-Azhar Park", "Salah Salem St, El-Darb El-Ahmar, Cairo", models.LatLng{Lat: 30.0406, Lng: 31.2646}),
	NewPlace("Citadel of Saladin", "Salah Salem St, Cairo", models.LatLng{Lat: 30.0299, Lng: 31.2611}),
	NewPlace("Zamalek", "26th of July Corridor, Zamalek, Cairo", models.LatLng{Lat: 30.0609, Lng: 31.2197}),
	NewPlace("Nasr City", "Abbas El Akkad St, Nasr City, Cairo", models.LatLng{Lat: 30.0511, Lng: 31.3656}),
	NewPlace("City Stars Mall", "Omar Ibn El Khattab St, Nasr City, Cairo", models.LatLng{Lat: 30.0729, Lng: 31.3456}),
	NewPlace("Heliopolis", "El Korba, Heliopolis, Cairo", models.LatLng{Lat: 30.0911, Lng: 31.3236}),
	NewPlace("Cairo International Airport", "Oruba Rd, Heliopolis, Cairo", models.LatLng{Lat: 30.1219, Lng: 31.4056}),
	NewPlace("Cairo Festival City", "Ring Road, New Cairo", models.LatLng{Lat: 30.0286, Lng: 31.4085}),
	NewPlace("Maadi", "Road 9, Maadi, Cairo", models.LatLng{Lat: 29.9602, Lng: 31.2569}),
	NewPlace("Giza Pyramids", "Al Haram, Giza", models.LatLng{Lat: 29.9792, Lng: 31.1342}),
}

type placeEntry struct {
	place models.Place
	point rtreego.Point
}

func (e *placeEntry) Bounds() rtreego.Rect {
	return e.point.ToRect(0.00001)
}

// PlaceIndex answers text and nearest-place lookups over a fixed place set.
type PlaceIndex struct {
	mu     sync.RWMutex
	tree   *rtreego.Rtree
	places map[string]models.Place
}

func NewPlaceIndex(places []models.Place) *PlaceIndex {
	idx := &PlaceIndex{
		tree:   rtreego.NewTree(2, 25, 50),
		places: make(map[string]models.Place, len(places)),
	}
	for _, p := range places {
		idx.Add(p)
	}
	return idx
}

func (idx *PlaceIndex) Add(p models.Place) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if p.ID == "" {
		p.ID = PlaceID(p.Location)
	}
	if _, exists := idx.places[p.ID]; exists {
		return
	}
	idx.places[p.ID] = p
	idx.tree.Insert(&placeEntry{place: p, point: rtreego.Point{p.Location.Lat, p.Location.Lng}})
}

func (idx *PlaceIndex) Get(id string) (models.Place, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.places[id]
	return p, ok
}

// Search returns places whose name or address contains query, nearest to
// origin first when an origin is given.
func (idx *PlaceIndex) Search(query string, origin *models.LatLng, limit int) []models.PlaceWithDistance {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	idx.mu.RLock()
	var hits []models.PlaceWithDistance
	for _, p := range idx.places {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Address), q) {
			hit := models.PlaceWithDistance{Place: p}
			if origin != nil {
				hit.Miles = HaversineMiles(*origin, p.Location)
			}
			hits = append(hits, hit)
		}
	}
	idx.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Miles != hits[j].Miles {
			return hits[i].Miles < hits[j].Miles
		}
		return hits[i].Name < hits[j].Name
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// Nearest returns up to k places closest to p. The tree ranks by planar
// degrees, so candidates are re-ranked by great-circle distance.
func (idx *PlaceIndex) Nearest(p models.LatLng, k int) []models.PlaceWithDistance {
	if k <= 0 {
		return nil
	}

	idx.mu.RLock()
	candidates := idx.tree.NearestNeighbors(k*2, rtreego.Point{p.Lat, p.Lng})
	idx.mu.RUnlock()

	hits := make([]models.PlaceWithDistance, 0, len(candidates))
	for _, c := range candidates {
		entry, ok := c.(*placeEntry)
		if !ok || entry == nil {
			continue
		}
		hits = append(hits, models.PlaceWithDistance{
			Place: entry.place,
			Miles: HaversineMiles(p, entry.place.Location),
		})
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Miles < hits[j].Miles })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
