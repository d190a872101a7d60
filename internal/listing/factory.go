package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fruitsalade/fruitsalade/browser/internal/auth"
	"github.com/fruitsalade/fruitsalade/browser/internal/listing/httpapi"
	"github.com/fruitsalade/fruitsalade/browser/internal/listing/local"
	"github.com/fruitsalade/fruitsalade/browser/internal/listing/postgres"
	s3backend "github.com/fruitsalade/fruitsalade/browser/internal/listing/s3"
	"github.com/fruitsalade/fruitsalade/browser/internal/listing/smb"
)

// Factory creates listing services from a backend type and JSON config.
type Factory struct {
	// Prompter is handed to backends that can ask for credentials.
	Prompter auth.Prompter
	// Timeout bounds a single remote call for network backends. Zero keeps
	// the backend's default.
	Timeout time.Duration
}

// New creates a Service from a backend type string and JSON config.
func (f Factory) New(ctx context.Context, backendType string, config json.RawMessage) (Service, error) {
	switch backendType {
	case "local":
		return local.NewFromJSON(config)
	case "smb":
		return smb.NewFromJSON(config)
	case "s3":
		return s3backend.NewFromJSON(ctx, config)
	case "postgres":
		return postgres.NewFromJSON(ctx, config)
	case "http":
		b, err := httpapi.NewFromJSON(config, f.Timeout)
		if err != nil {
			return nil, err
		}
		b.SetPrompter(f.Prompter)
		return b, nil
	default:
		return nil, fmt.Errorf("unknown listing backend type: %s", backendType)
	}
}
