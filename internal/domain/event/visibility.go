package event

import "fmt"

// VisibilityState mirrors the host runtime visibility signal.
type VisibilityState string

const (
	Visible VisibilityState = "visible"
	Hidden  VisibilityState = "hidden"
)

// ParseVisibility validates a wire value.
func ParseVisibility(s string) (VisibilityState, error) {
	switch v := VisibilityState(s); v {
	case Visible, Hidden:
		return v, nil
	}
	return "", fmt.Errorf("event: unknown visibility state %q", s)
}
