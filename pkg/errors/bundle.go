// pkg/errors/bundle.go
package errors

// Bundle error codes
const (
	// BundleErrAlreadyRegistered indicates the bundle name is already taken
	BundleErrAlreadyRegistered = "BUNDLE_ALREADY_REGISTERED"
	// BundleErrNotFound indicates the bundle name is not registered
	BundleErrNotFound = "BUNDLE_NOT_FOUND"
	// BundleErrInstanceNotFound indicates the instance id is unknown
	BundleErrInstanceNotFound = "BUNDLE_INSTANCE_NOT_FOUND"
	// BundleErrInvalidSchema indicates a schema failed validation
	BundleErrInvalidSchema = "BUNDLE_INVALID_SCHEMA"
	// BundleErrStart indicates an instance failed to start
	BundleErrStart = "BUNDLE_START"
	// BundleErrEndpointNotFound indicates a call targeted an undeclared endpoint
	BundleErrEndpointNotFound = "BUNDLE_ENDPOINT_NOT_FOUND"
	// BundleErrRestartExhausted indicates the restart ceiling was reached
	BundleErrRestartExhausted = "BUNDLE_RESTART_EXHAUSTED"
	// BundleErrPipeline indicates a pipeline could not be built or run
	BundleErrPipeline = "BUNDLE_PIPELINE"
)

// Bundle domain name
const BundleDomain = "bundle"

// NewBundleError creates a new bundle error
func NewBundleError(code string, message string, err error) error {
	return &Error{
		Domain:   BundleDomain,
		Code:     code,
		Message:  message,
		Original: err,
	}
}
