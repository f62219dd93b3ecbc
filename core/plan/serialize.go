package plan

import (
	"encoding/json"

	"github.com/juju/errors"
)

// Serialize renders the plan as 4-space-indented JSON, matching the
// on-disk plan.json layout (spec §6).
func (p UpdatePlan) Serialize() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return nil, errors.Annotate(err, "marshalling update plan")
	}
	return data, nil
}

// Deserialize parses a plan.json document. Any version other than
// FormatVersion is rejected (spec §6: "Readers must reject other
// versions").
func Deserialize(data []byte) (UpdatePlan, error) {
	var p UpdatePlan
	if err := json.Unmarshal(data, &p); err != nil {
		return UpdatePlan{}, errors.Annotate(err, "unmarshalling update plan")
	}
	if p.V != FormatVersion {
		return UpdatePlan{}, errors.NotValidf("update plan format version %d", p.V)
	}
	return p, nil
}
