// Copyright © 2016 Nicholas Ng <nickng@projectfate.org>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/staywilliam/asanopt/webservice"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Run an HTTP webservice instrumenting posted modules",
	Long: `Run an HTTP webservice instrumenting posted modules.

POST an LLVM module (or a Go main package with ?lang=go) to /instrument
to get back the instrumented module and its statistics. GET / for usage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return Serve()
	},
}

var (
	addr string // Listen interface.
	port string // Listen port.
)

func init() {
	RootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&addr, "bind", "127.0.0.1", "Bind address. Defaults to 127.0.0.1.")
	serveCmd.Flags().StringVar(&port, "port", "6060", "Listen port. Defaults to 6060.")
}

// Serve starts the HTTP server.
func Serve() error {
	l, err := newLogWriter()
	if err != nil {
		return err
	}
	defer l.Cleanup()
	opts, err := options()
	if err != nil {
		return err
	}
	webservice.Options = opts
	webservice.Logger = l.Logger().WithField("service", "asanopt")
	server := webservice.NewServer(addr, port)
	defer server.Close()
	return server.Start()
}
