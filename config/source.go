package config

// Source feeds raw configuration bytes in Format to Config. Watch fires
// whenever Load would return new content.
type Source interface {
	Load() ([]byte, error)
	Watch() <-chan struct{}
	Close() error
	Format() string
}
