package imagecache

import (
	"net/url"
	"strconv"

	"github.com/Harborline-Auto/vehicle-gallery-api/internal/domain"
)

// Key identifies one cached image list. It is a comparable struct of named
// fields, so two keys are equal exactly when every field is equal.
type Key struct {
	VIN      domain.VIN
	Type     domain.TypeFilter
	Page     int
	PageSize int
}

// String renders the key as sorted name=value pairs, e.g.
// "page=1&pageSize=12&type=AUCTION&vin=JH4KA8260MC000000".
func (k Key) String() string {
	v := url.Values{}
	v.Set("vin", string(k.VIN))
	v.Set("type", k.Type.String())
	v.Set("page", strconv.Itoa(k.Page))
	v.Set("pageSize", strconv.Itoa(k.PageSize))
	return v.Encode()
}
