package webservice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"

	"github.com/staywilliam/asanopt/asan"
	"github.com/staywilliam/asanopt/dot"
	"github.com/staywilliam/asanopt/ir"
)

const usage = `asanopt webservice

POST /instrument          instrument the LLVM IR module in the body
POST /instrument?lang=go  instrument the Go main package in the body
POST /dot?func=name       Graphviz CFG of an instrumented function

/instrument replies with {"ir": <instrumented module>, "stats": <counters>}.
`

func indexHandler(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/" {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, usage)
}

// instrumentBody reads, lowers and instruments the request body.
func instrumentBody(w http.ResponseWriter, req *http.Request) (*ir.Module, *asan.Pass, bool) {
	if req.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return nil, nil, false
	}
	b, err := ioutil.ReadAll(io.LimitReader(req.Body, MaxBodySize))
	if err != nil {
		NewErrInternal(err, "Cannot read input").Report(w)
		return nil, nil, false
	}
	req.Body.Close()
	m, err := load(req.URL.Query().Get("lang"), string(b))
	if err != nil {
		NewErrBadRequest(err, "Cannot load input").Report(w)
		return nil, nil, false
	}
	p, err := asan.NewPass(options(), logger())
	if err != nil {
		NewErrInternal(err, "Cannot create pass").Report(w)
		return nil, nil, false
	}
	if err := p.InstrumentModule(m); err != nil {
		NewErrInternal(err, "Instrumentation failed").Report(w)
		return nil, nil, false
	}
	return m, p, true
}

func instrumentHandler(w http.ResponseWriter, req *http.Request) {
	m, p, ok := instrumentBody(w, req)
	if !ok {
		return
	}
	buf := new(bytes.Buffer)
	if err := ir.Fprint(buf, m); err != nil {
		NewErrInternal(err, "Cannot print module").Report(w)
		return
	}
	reply := struct {
		IR    string        `json:"ir"`
		Stats asan.Counters `json:"stats"`
	}{
		IR:    buf.String(),
		Stats: p.Stats.Snapshot(),
	}
	logger().WithField("module", m.Name).Infof("instrumented, %d checks", reply.Stats.Checks())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(&reply)
}

func dotHandler(w http.ResponseWriter, req *http.Request) {
	name := req.URL.Query().Get("func")
	if name == "" {
		NewErrBadRequest(fmt.Errorf("missing func parameter"), "Cannot select function").Report(w)
		return
	}
	m, p, ok := instrumentBody(w, req)
	if !ok {
		return
	}
	f := m.Func(name)
	if f == nil {
		NewErrBadRequest(fmt.Errorf("no function %s", name), "Cannot select function").Report(w)
		return
	}
	buf := new(bytes.Buffer)
	if err := dot.Write(buf, f, p.Opts.CallbackPrefix); err != nil {
		NewErrBadRequest(err, "Cannot render function").Report(w)
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	buf.WriteTo(w)
}
