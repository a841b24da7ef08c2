package log_test

import (
	"fmt"

	alog "github.com/impulsar/lib-aru/aru/log"
)

func ExampleParseLevel() {
	level, err := alog.ParseLevel("warning")

	fmt.Println(err == nil)
	fmt.Println(level.String())

	// Output:
	// true
	// warn
}
