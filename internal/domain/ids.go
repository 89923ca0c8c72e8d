package domain

import "strings"

// VIN is the vehicle identifier images are attached to.
// It is treated as opaque: auction houses do not always issue 17-character VINs.
type VIN string

// NormalizeVIN trims surrounding whitespace and upper-cases the identifier.
func NormalizeVIN(s string) VIN {
	return VIN(strings.ToUpper(strings.TrimSpace(s)))
}

// ImageID is the numeric identifier of an image record.
type ImageID int64
