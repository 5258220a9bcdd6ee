//go:build atticdebug

package atticprotocol

import "fmt"

func init() {
	if missing := missingEncoders(); len(missing) > 0 {
		panic(fmt.Sprintf("atticprotocol: command types without an encoder: %v", missing))
	}
}
