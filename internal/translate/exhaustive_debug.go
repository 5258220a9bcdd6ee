//go:build atticdebug

package translate

import "fmt"

func init() {
	if missing := Uncovered(); len(missing) > 0 {
		panic(fmt.Sprintf("translate: command types neither translated nor listed as untranslated: %v", missing))
	}
}
