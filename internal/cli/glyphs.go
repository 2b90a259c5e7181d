package cli

// Status indicators
const (
	CheckMark = "✓"
	CrossMark = "✗"
	Bullet    = "●"
	Circle    = "○"
)

// Indicator renders a colored check or cross.
func Indicator(ok bool) string {
	if ok {
		return OK(CheckMark)
	}
	return Bad(CrossMark)
}
