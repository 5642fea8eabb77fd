package geo

// Point is a decoded polyline vertex.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DecodePolyline decodes an encoded polyline with 1e-5 precision.
// An empty input yields an empty slice. A truncated trailing value is
// dropped rather than reported.
func DecodePolyline(encoded string) []Point {
	points := make([]Point, 0, len(encoded)/4)
	var lat, lng int
	i := 0
	for i < len(encoded) {
		dLat, next, ok := decodeValue(encoded, i)
		if !ok {
			break
		}
		dLng, next2, ok := decodeValue(encoded, next)
		if !ok {
			break
		}
		i = next2
		lat += dLat
		lng += dLng
		points = append(points, Point{Lat: float64(lat) / 1e5, Lng: float64(lng) / 1e5})
	}
	return points
}

func decodeValue(s string, i int) (int, int, bool) {
	var result, shift int
	for i < len(s) {
		b := int(s[i]) - 63
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), i, true
			}
			return result >> 1, i, true
		}
	}
	return 0, i, false
}
