// Package webservice runs a webservice instrumenting posted modules.
//
// Endpoints:
//
//	POST /instrument      LLVM IR body (Go source with ?lang=go), replies
//	                      with the instrumented module and statistics
//	POST /dot?func=name   replies with the CFG of the instrumented function
//	GET  /                usage
package webservice // import "github.com/staywilliam/asanopt/webservice"

import (
	"github.com/sirupsen/logrus"

	"github.com/staywilliam/asanopt/asan"
)

var (
	// Options configures instrumentation. Defaults are used when nil.
	Options *asan.Options
	// Logger logs requests. The standard logger is used when nil.
	Logger *logrus.Entry
	// MaxBodySize limits request bodies, in bytes.
	MaxBodySize int64 = 8 << 20
)

func options() *asan.Options {
	if Options == nil {
		return asan.DefaultOptions()
	}
	return Options
}

func logger() *logrus.Entry {
	if Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger()).WithField("service", "asanopt")
	}
	return Logger
}
