package server

// Option configures the Server at construction time.
type Option func(*Server)

// WithPort overrides the listen port.
func WithPort(port string) Option {
	return func(s *Server) {
		if port != "" {
			s.port = port
		}
	}
}
