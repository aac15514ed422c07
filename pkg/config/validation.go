package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against the struct-level validate
// tags plus a few cross-field rules the tags cannot express.
//
// Validate does not mutate the config; normalization happens in
// ApplyDefaults.
func Validate(cfg *Config) error {
	v := validator.New()

	if err := v.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on the %q rule", fieldPath(fe), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// The token service rejects missing or short secrets at startup, so
	// an empty secret is only an error once the server actually boots.
	if cfg.Antivirus.Enabled && cfg.Antivirus.Host == "" {
		return fmt.Errorf("invalid configuration: antivirus.host is required when antivirus is enabled")
	}

	return nil
}

// fieldPath renders a validation error's field as the lowercase dotted
// path users write in the YAML file (Config.Listing.PageSize ->
// listing.page_size is more than tags give us, so settle for the
// struct path without the root).
func fieldPath(fe validator.FieldError) string {
	path := fe.StructNamespace()
	if i := strings.IndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	return path
}
