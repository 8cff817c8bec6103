package models

import (
	"fmt"
	"strconv"
)

// Column names of the output file, in order.
const (
	ColumnCategoryID = "category_id"
	ColumnSourceData = "source_data"
)

// Columns is the fixed header of the output file.
var Columns = []string{
	FieldName, FieldBrand, ColumnCategoryID, FieldCPU, FieldGPU, FieldRAM, FieldStorage,
	FieldCamera, FieldBattery, FieldScreen, FieldReleaseYear, FieldPrice, FieldImageURL,
	ColumnSourceData,
}

// Row is an accepted device ready for output.
type Row struct {
	Device
	CategoryID int    `csv:"category_id" json:"category_id"`
	SourceData string `csv:"source_data" json:"source_data"`
}

// Record renders the row in Columns order.
func (r *Row) Record() []string {
	d := r.Device
	return []string{
		d.Name, d.Brand, strconv.Itoa(r.CategoryID), d.CPU, d.GPU, d.RAM, d.Storage,
		d.Camera, d.Battery, d.Screen, d.ReleaseYear, d.Price, d.ImageURL,
		r.SourceData,
	}
}

// RowFromRecord parses a record laid out by header. Columns missing from the
// header default to Unknown so older extraction-stage files still load.
func RowFromRecord(header, record []string) (*Row, error) {
	if len(record) != len(header) {
		return nil, fmt.Errorf("record has %d fields, header has %d", len(record), len(header))
	}

	row := &Row{Device: NewDevice()}
	for i, column := range header {
		value := record[i]
		switch column {
		case ColumnCategoryID:
			if value == "" {
				continue
			}
			id, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("parse %s %q: %w", ColumnCategoryID, value, err)
			}
			row.CategoryID = id
		case ColumnSourceData:
			row.SourceData = value
		default:
			row.SetField(column, value)
		}
	}
	return row, nil
}
