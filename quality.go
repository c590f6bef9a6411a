package mediafetch

// Quality identifies a rendition quality tier.
type Quality string

const (
	QualityHD     Quality = "hd"
	QualitySD     Quality = "sd"
	QualityMobile Quality = "mobile"

	// DefaultQuality is used when a fetch request does not name a tier.
	DefaultQuality = QualityHD
)

// Valid reports whether q is a known quality tier.
func (q Quality) Valid() bool {
	switch q {
	case QualityHD, QualitySD, QualityMobile:
		return true
	}
	return false
}

// Preference returns the tier order tried when selecting a rendition for
// the requested quality. An unknown tier gets the hd order.
func (q Quality) Preference() []Quality {
	switch q {
	case QualitySD:
		return []Quality{QualitySD, QualityHD, QualityMobile}
	case QualityMobile:
		return []Quality{QualityMobile, QualitySD, QualityHD}
	default:
		return []Quality{QualityHD, QualitySD, QualityMobile}
	}
}
