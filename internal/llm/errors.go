package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// ErrFatalAPI marks provider errors that will not go away by retrying:
// exhausted credit, bad credentials, quota. Sessions keep running on stubs but
// the server logs them at error level.
var ErrFatalAPI = errors.New("fatal LLM API error")

var fatalMarkers = []string{
	"credit balance",
	"rate limit",
	"quota exceeded",
	"billing",
	"invalid api key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

// Bedrock error codes that indicate a configuration problem.
var fatalAWSCodes = map[string]bool{
	"AccessDeniedException":         true,
	"UnrecognizedClientException":   true,
	"ExpiredTokenException":         true,
	"ServiceQuotaExceededException": true,
	"ThrottlingException":           true,
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && fatalAWSCodes[apiErr.ErrorCode()] {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range fatalMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func wrapFatalError(err error) error {
	if isFatalAPIError(err) {
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	}
	return err
}
