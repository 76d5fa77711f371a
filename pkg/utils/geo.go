package utils

// ValidLatitude reports whether lat is a usable WGS84 latitude.
func ValidLatitude(lat float64) bool {
	return lat >= -90 && lat <= 90
}

// ValidLongitude reports whether lng is a usable WGS84 longitude.
func ValidLongitude(lng float64) bool {
	return lng >= -180 && lng <= 180
}
