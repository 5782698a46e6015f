package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

type readingAlias RegionReading

type readingJSON struct {
	readingAlias
	EndingDate string `json:"ending_date"`
}

// MarshalJSON renders EndingDate as a plain date.
func (r RegionReading) MarshalJSON() ([]byte, error) {
	return json.Marshal(readingJSON{
		readingAlias: readingAlias(r),
		EndingDate:   r.EndingDateString(),
	})
}

// UnmarshalJSON parses EndingDate from a plain date.
func (r *RegionReading) UnmarshalJSON(data []byte) error {
	var raw readingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal reading")
	}
	*r = RegionReading(raw.readingAlias)
	if raw.EndingDate != "" {
		t, err := time.Parse(DateLayout, raw.EndingDate)
		if err != nil {
			return eris.Wrapf(err, "model: parse ending_date %q", raw.EndingDate)
		}
		r.EndingDate = t
	}
	return nil
}
