package fgaclient

import (
	"errors"

	"github.com/torosent/fgaclient/internal/apierror"
	"github.com/torosent/fgaclient/internal/clientmetrics"
	"github.com/torosent/fgaclient/internal/config"
	"github.com/torosent/fgaclient/internal/credentials"
	"github.com/torosent/fgaclient/internal/httpclient"
	"github.com/torosent/fgaclient/internal/transport"
)

type (
	Config            = config.Config
	CredentialsConfig = config.CredentialsConfig
	Credentials       = credentials.Credentials
	Request           = httpclient.Request
	Param             = httpclient.Param
	FilePart          = httpclient.FilePart
	Response          = transport.Response
	Stats             = clientmetrics.Snapshot

	APIError            = apierror.APIError
	AuthenticationError = apierror.AuthenticationError
	TransportError      = apierror.TransportError
)

const (
	ModeBlocking = config.ModeBlocking
	ModeAsync    = config.ModeAsync

	CredentialsMethodNone              = credentials.MethodNone
	CredentialsMethodAPIToken          = credentials.MethodAPIToken
	CredentialsMethodClientCredentials = credentials.MethodClientCredentials
)

var (
	ErrInvalidArgument    = apierror.ErrInvalidArgument
	ErrContentMismatch    = apierror.ErrContentMismatch
	ErrInvalidCredentials = credentials.ErrInvalidCredentials

	ErrValidation   = apierror.ErrValidation
	ErrUnauthorized = apierror.ErrUnauthorized
	ErrForbidden    = apierror.ErrForbidden
	ErrNotFound     = apierror.ErrNotFound
	ErrRateLimited  = apierror.ErrRateLimited
	ErrServiceError = apierror.ErrServiceError
	ErrGenericAPI   = apierror.ErrGenericAPI

	ErrAuthentication = apierror.ErrAuthentication
	ErrTransport      = apierror.ErrTransport

	ErrClosed = errors.New("fgaclient: client closed")
)

// DefaultConfig returns a Config with every default applied. APIURL must
// still be set.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads configuration from command-line style arguments, the
// file named by --config and FGA_* environment variables.
func LoadConfig(args []string) (*Config, error) {
	return config.NewLoader().Load(args)
}
