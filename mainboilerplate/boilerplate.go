// Package mainboilerplate contains shared boilerplate of relite binaries:
// flag and INI configuration parsing, and logging initialization.
package mainboilerplate

import (
	log "github.com/sirupsen/logrus"
)

// Version and BuildDate are populated at build time via the linker.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// Must panics via logrus.Fatal if |err| is non-nil. |msg| and |extras|
// become fields of the logged event.
func Must(err error, msg string, extras ...interface{}) {
	if err == nil {
		return
	}
	var fields = log.Fields{"err": err}
	for i := 0; i+1 < len(extras); i += 2 {
		fields[extras[i].(string)] = extras[i+1]
	}
	log.WithFields(fields).Fatal(msg)
}
