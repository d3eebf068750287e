package fault

import "fmt"

// Invariant is a broken internal consistency assumption. It is raised with
// panic and recovered only at the process boundary.
type Invariant struct {
	Name   string
	Detail string
}

func (i *Invariant) Error() string {
	return fmt.Sprintf("invariant violated: %s: %s", i.Name, i.Detail)
}

// Violate panics with an *Invariant.
func Violate(name, format string, args ...any) {
	panic(&Invariant{Name: name, Detail: fmt.Sprintf(format, args...)})
}

// Recover converts a recovered *Invariant panic into an error. Any other
// panic value is re-raised.
//
//	defer fault.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if inv, ok := r.(*Invariant); ok {
		*errp = inv
		return
	}
	panic(r)
}
