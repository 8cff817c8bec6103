package parser

import (
	"log/slog"
	"regexp"

	"github.com/aluiziolira/go-scrape-phones/models"
)

var (
	// "256GB 12GB RAM"
	storageRAMPattern = regexp.MustCompile(`(\d+(?:\.\d+)?[KMGT]B)\s+(\d+(?:\.\d+)?[KMGT]B)\s*RAM`)
	// "128GB 6GB"
	capacityPairPattern = regexp.MustCompile(`(\d+(?:\.\d+)?[KMGT]B)\s+(\d+(?:\.\d+)?[KMGT]B)`)
)

// SplitStorageRAM separates a storage value that also carries the memory
// capacity. The first capacity is storage, the second is memory. Inputs are
// returned unchanged when ram is already known, storage is unknown, or no
// pattern matches.
func SplitStorageRAM(storage, ram string) (string, string, bool) {
	if ram != models.Unknown || storage == models.Unknown {
		return storage, ram, false
	}
	if m := storageRAMPattern.FindStringSubmatch(storage); m != nil {
		return m[1], m[2], true
	}
	if m := capacityPairPattern.FindStringSubmatch(storage); m != nil {
		return m[1], m[2], true
	}
	return storage, ram, false
}

// Normalize applies the storage/memory split. All other fields pass through.
func Normalize(d models.Device) models.Device {
	storage, ram, ok := SplitStorageRAM(d.Storage, d.RAM)
	if !ok {
		if d.RAM == models.Unknown && d.Storage != models.Unknown {
			slog.Debug("storage/ram split not applied",
				slog.String("name", d.Name),
				slog.String("storage", d.Storage),
			)
		}
		return d
	}
	d.Storage = storage
	d.RAM = ram
	return d
}
