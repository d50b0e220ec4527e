package geo

// SelectZoomLevels picks the zoom levels to search for a bounding box. A fixed
// zoom is wrong both for a neighborhood and for a state, so the levels track
// the physical area the box covers.
func SelectZoomLevels(box BoundingBox) []int {
	area := box.Area()

	switch {
	case area > 4.0: // huge state/country
		return []int{10, 11, 12, 13}
	case area > 1.0: // medium state
		return []int{11, 12, 13, 14}
	case area > 0.1: // large city/county
		return []int{12, 13, 14, 15}
	default: // city/town/neighborhood
		return []int{13, 14, 15, 16}
	}
}
