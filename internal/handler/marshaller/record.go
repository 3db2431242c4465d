package marshaller

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/webitel/telemetry-pipeline/internal/domain/model"
)

// MarshalRecord serializes one merged context into a single-line JSON record.
// The output never contains a raw newline, so records can be joined with "\n".
func MarshalRecord(ctx model.Context) (string, error) {
	b, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(b), nil
}
