package objectstore

import (
	"fmt"
	"image-processing-flow/internal/config"
)

// New builds the Store selected by cfg.Driver.
func New(cfg config.Storage) (Store, error) {
	switch cfg.Driver {
	case "", config.DriverS3:
		sess, err := NewS3Session(S3Options{
			Region:    cfg.Region,
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Profile:   cfg.Profile,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Store(sess), nil
	case config.DriverMinio:
		return NewMinioStore(MinioOptions{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			UseSSL:    cfg.UseSSL,
		})
	}
	return nil, fmt.Errorf("unknown storage driver: '%s'", cfg.Driver)
}
