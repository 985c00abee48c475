package webservice

import (
	"fmt"
	"net"
	"net/http"
	"sync"
)

type Server struct {
	listener net.Listener
	iface    string
	port     string

	listenerMtx sync.Mutex
}

func NewServer(iface string, port string) *Server {
	return &Server{
		iface: iface,
		port:  port,
	}
}

// Handler returns the routes of the service.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", indexHandler)
	mux.HandleFunc("/instrument", instrumentHandler)
	mux.HandleFunc("/dot", dotHandler)
	return mux
}

// Start serves requests until the listener is closed.
func (s *Server) Start() error {
	l, err := s.Listener()
	if err != nil {
		return err
	}
	logger().Infof("Listening at http://%s/", l.Addr())
	err = (&http.Server{Handler: Handler()}).Serve(l)
	if ne, ok := err.(*net.OpError); ok && ne.Op == "accept" {
		return nil // Closed.
	}
	return err
}

func (s *Server) Close() error {
	l, err := s.Listener()
	if err != nil {
		return err
	}
	return l.Close()
}

func (s *Server) URL() (string, error) {
	l, err := s.Listener()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s/", l.Addr()), nil
}

func (s *Server) Listener() (net.Listener, error) {
	s.listenerMtx.Lock()
	defer s.listenerMtx.Unlock()

	if s.listener != nil {
		return s.listener, nil
	}

	ifaceAndPort := net.JoinHostPort(s.iface, s.port)
	listener, err := net.Listen("tcp4", ifaceAndPort)
	if err != nil {
		return nil, err
	}

	s.listener = listener
	return s.listener, nil
}
