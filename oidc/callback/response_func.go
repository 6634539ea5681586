package callback

// SuccessResponseFunc is used by a Listener to create the response body
// written back to the user's browser after a successful callback. The page is
// the last thing the user sees from the flow, so it should tell them to
// return to the application.
type SuccessResponseFunc func() []byte

// ErrorResponseFunc is used by a Listener to create the response body written
// back to the user's browser when the callback fails. The error passed in is
// the failure the Listen call will return.
type ErrorResponseFunc func(e error) []byte

// DefaultSuccessResponse is the default SuccessResponseFunc.
func DefaultSuccessResponse() []byte {
	return []byte(`<!DOCTYPE html><html><body><h2>Signed in</h2>` +
		`<p>You may now close this page and return to the application.</p></body></html>`)
}

// DefaultErrorResponse is the default ErrorResponseFunc. It deliberately does
// not echo error details back to the browser.
func DefaultErrorResponse(error) []byte {
	return []byte(`<!DOCTYPE html><html><body><h2>Authentication failed</h2>` +
		`<p>Please return to the application and try again.</p></body></html>`)
}
