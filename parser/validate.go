package parser

import "github.com/aluiziolira/go-scrape-phones/models"

// Policy lists the fields a record must carry to be accepted.
type Policy struct {
	Required []string
}

// NewPolicy builds a policy over a copy of fields.
func NewPolicy(fields []string) Policy {
	return Policy{Required: append([]string(nil), fields...)}
}

// Verdict is the completeness outcome for one record. Missing keeps the
// policy's field order.
type Verdict struct {
	Complete bool
	Missing  []string
}

// Validate checks every required field against models.Unknown. Names outside
// the device schema count as missing.
func (p Policy) Validate(d models.Device) Verdict {
	var missing []string
	for _, field := range p.Required {
		value, ok := d.Field(field)
		if !ok || value == models.Unknown {
			missing = append(missing, field)
		}
	}
	return Verdict{Complete: len(missing) == 0, Missing: missing}
}
