package socket

import "strings"

// MultiError aggregates the failures of an ordered list of attempts, such as
// the bind strategies tried by a Server, into a single error value.
type MultiError []error

func (m MultiError) Error() string {
	var b strings.Builder
	b.WriteString("multiple errors:")
	for _, err := range m {
		b.WriteString("\n- " + err.Error())
	}
	return b.String()
}
