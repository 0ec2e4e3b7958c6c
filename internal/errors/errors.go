package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ValidationError covers invalid payloads and illegal action/status
// combinations. Maps to HTTP 400.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// TransportError wraps a mail transport failure with the SMTP code and
// the command that failed, so the delivery worker can classify it.
type TransportError struct {
	Code    int
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport error (code %d, %s): %v", e.Code, e.Command, e.Err)
	}
	return fmt.Sprintf("transport error (%s): %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func NewTransport(code int, command string, err error) error {
	return &TransportError{Code: code, Command: command, Err: err}
}
