package translate

// Fixture is one input/output pair every implementation of the
// translator must agree on.
type Fixture struct {
	Name     string
	Input    string
	Mode     Mode
	Options  Options
	Expected []string
}

// Fixtures are the canonical translation scenarios. They are exercised by
// this package's tests and replayed against a fake server by the REPL
// tests.
var Fixtures = []Fixture{
	{"go resumes", "g", ModeMonitor, Options{}, []string{"resume"}},
	{"go to address", "g $0600", ModeMonitor, Options{}, []string{"registers pc=$0600", "resume"}},
	{"list range atascii", "list 10-50", ModeBasic, Options{ATASCII: true}, []string{"basic list 10-50 atascii"}},
	{"basic line typed", "10 PRINT A", ModeBasic, Options{}, []string{`inject keys 10\sPRINT\sA\n`}},
	{"dos dir pattern", "dir *.COM", ModeDOS, Options{}, []string{"dos dir *.COM"}},
	{"reset in monitor", ".reset", ModeMonitor, Options{}, []string{"reset cold"}},
	{"reset in basic", ".reset", ModeBasic, Options{}, []string{"reset cold"}},
	{"reset in dos", ".reset", ModeDOS, Options{}, []string{"reset cold"}},
}
