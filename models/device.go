// Package models defines data structures for the scraper.
package models

import "strings"

// Unknown marks a canonical field the source page did not provide.
const Unknown = "N/A"

// Canonical field names, in output order.
const (
	FieldName        = "name"
	FieldBrand       = "brand"
	FieldCPU         = "cpu"
	FieldGPU         = "gpu"
	FieldRAM         = "ram"
	FieldStorage     = "storage"
	FieldCamera      = "camera"
	FieldBattery     = "battery"
	FieldScreen      = "screen"
	FieldReleaseYear = "release_year"
	FieldPrice       = "price"
	FieldImageURL    = "image_url"
)

// FieldNames lists the canonical device fields in their fixed order.
var FieldNames = []string{
	FieldName, FieldBrand, FieldCPU, FieldGPU, FieldRAM, FieldStorage,
	FieldCamera, FieldBattery, FieldScreen, FieldReleaseYear, FieldPrice, FieldImageURL,
}

// Device is one extracted device specification. Every field always holds
// either real text or Unknown.
type Device struct {
	Name        string `csv:"name" json:"name"`
	Brand       string `csv:"brand" json:"brand"`
	CPU         string `csv:"cpu" json:"cpu"`
	GPU         string `csv:"gpu" json:"gpu"`
	RAM         string `csv:"ram" json:"ram"`
	Storage     string `csv:"storage" json:"storage"`
	Camera      string `csv:"camera" json:"camera"`
	Battery     string `csv:"battery" json:"battery"`
	Screen      string `csv:"screen" json:"screen"`
	ReleaseYear string `csv:"release_year" json:"release_year"`
	Price       string `csv:"price" json:"price"`
	ImageURL    string `csv:"image_url" json:"image_url"`
}

// NewDevice returns a device with every field set to Unknown.
func NewDevice() Device {
	return Device{
		Name:        Unknown,
		Brand:       Unknown,
		CPU:         Unknown,
		GPU:         Unknown,
		RAM:         Unknown,
		Storage:     Unknown,
		Camera:      Unknown,
		Battery:     Unknown,
		Screen:      Unknown,
		ReleaseYear: Unknown,
		Price:       Unknown,
		ImageURL:    Unknown,
	}
}

// Field returns the value of a canonical field by name.
func (d *Device) Field(name string) (string, bool) {
	p := d.fieldPtr(name)
	if p == nil {
		return "", false
	}
	return *p, true
}

// SetField assigns a canonical field by name. It reports false for names
// outside the fixed schema.
func (d *Device) SetField(name, value string) bool {
	p := d.fieldPtr(name)
	if p == nil {
		return false
	}
	*p = value
	return true
}

func (d *Device) fieldPtr(name string) *string {
	switch name {
	case FieldName:
		return &d.Name
	case FieldBrand:
		return &d.Brand
	case FieldCPU:
		return &d.CPU
	case FieldGPU:
		return &d.GPU
	case FieldRAM:
		return &d.RAM
	case FieldStorage:
		return &d.Storage
	case FieldCamera:
		return &d.Camera
	case FieldBattery:
		return &d.Battery
	case FieldScreen:
		return &d.Screen
	case FieldReleaseYear:
		return &d.ReleaseYear
	case FieldPrice:
		return &d.Price
	case FieldImageURL:
		return &d.ImageURL
	}
	return nil
}

// IsKnownField reports whether name is one of the canonical fields.
func IsKnownField(name string) bool {
	var d Device
	return d.fieldPtr(strings.TrimSpace(name)) != nil
}

// Candidate is one discovered detail page, not yet fetched.
type Candidate struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}
