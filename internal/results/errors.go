package results

import "time"

// Error codes reported alongside failed analysis requests. They mirror the
// codes the backend attaches to its error events.
const (
	CodeAnalysisError     = "ANALYSIS_ERROR"
	CodeAnalysisTimeout   = "ANALYSIS_TIMEOUT"
	CodeAnalysisCancelled = "ANALYSIS_CANCELLED"

	CodeExecutionFailed = "EXECUTION_FAILED"
	CodeDataNotFound    = "DATA_NOT_FOUND"
	CodeDataInvalid     = "DATA_INVALID"
	CodeDataEmpty       = "DATA_EMPTY"
	CodeDataTooLarge    = "DATA_TOO_LARGE"

	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeConnectionTimeout = "CONNECTION_TIMEOUT"

	CodeResourceBusy = "RESOURCE_BUSY"
)

// ErrorInfo is the enhanced error record attached to the store when a
// request fails: a stable code, a user-facing message, technical details,
// and recovery suggestions the UI can offer.
type ErrorInfo struct {
	Code                string   `json:"code"`
	Message             string   `json:"message"`
	Details             string   `json:"details,omitempty"`
	RecoverySuggestions []string `json:"recoverySuggestions"`
	Timestamp           int64    `json:"timestamp"`
}

// NewErrorInfo builds an ErrorInfo with suggestions derived from the code.
func NewErrorInfo(code, message, details string) ErrorInfo {
	if message == "" {
		message = defaultMessage(code)
	}
	return ErrorInfo{
		Code:                code,
		Message:             message,
		Details:             details,
		RecoverySuggestions: recoverySuggestions(code),
		Timestamp:           time.Now().UnixMilli(),
	}
}

func defaultMessage(code string) string {
	switch code {
	case CodeAnalysisTimeout:
		return "The analysis timed out"
	case CodeAnalysisCancelled:
		return "The analysis was cancelled"
	case CodeExecutionFailed:
		return "The analysis code failed to execute"
	case CodeDataNotFound:
		return "The requested data could not be found"
	case CodeDataInvalid:
		return "The data format is invalid"
	case CodeDataEmpty:
		return "The query returned no data"
	case CodeDataTooLarge:
		return "The data exceeds the size limit"
	case CodeConnectionFailed:
		return "Could not reach the analysis service"
	case CodeConnectionTimeout:
		return "The connection to the analysis service timed out"
	case CodeResourceBusy:
		return "An analysis is already running for this session"
	default:
		return "The analysis failed"
	}
}

func recoverySuggestions(code string) []string {
	switch code {
	case CodeAnalysisTimeout:
		return []string{
			"Narrow the query or reduce the data range",
			"Retry in a moment; the service may be busy",
		}
	case CodeAnalysisCancelled:
		return []string{
			"Resubmit the request to run the analysis again",
		}
	case CodeExecutionFailed:
		return []string{
			"Check that the attached data matches the question",
			"Rephrase the request and try again",
		}
	case CodeDataNotFound:
		return []string{
			"Check that the data source is still attached",
			"Verify the table and column names in the question",
		}
	case CodeDataEmpty:
		return []string{
			"Loosen the filter conditions",
			"Confirm the data source contains the expected rows",
		}
	case CodeDataTooLarge:
		return []string{
			"Add filters or sample the data before analyzing",
		}
	case CodeConnectionFailed, CodeConnectionTimeout:
		return []string{
			"Check the network connection",
			"Confirm the agent gateway is running, then retry",
		}
	case CodeResourceBusy:
		return []string{
			"Wait for the running analysis to finish",
			"Cancel the current analysis before starting a new one",
		}
	default:
		return []string{
			"Retry the request",
			"If the problem persists, restart the application",
		}
	}
}
