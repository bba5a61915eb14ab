package gqlclient

import (
	"encoding/json"

	"github.com/wurt83ow/checkin-client/pkg/models"
)

// Operation names understood by the check-in API.
const (
	OperationCheckin  = "Checkin"
	OperationCheckout = "Checkout"
	OperationLogin    = "Login"
)

// Documents sent for each operation.
const (
	CheckinMutation = `mutation Checkin($qrCodeId: String!, $eventId: String!) {
  checkin(qrCodeId: $qrCodeId, eventId: $eventId) { id qrCodeId eventId userId checkedInAt checkedOutAt }
}`
	CheckoutMutation = `mutation Checkout($qrCodeId: String!, $eventId: String!) {
  checkout(qrCodeId: $qrCodeId, eventId: $eventId) { id qrCodeId eventId userId checkedInAt checkedOutAt }
}`
	LoginMutation = `mutation Login($email: String!, $password: String!) {
  login(email: $email, password: $password) { token }
}`
	ProbeQuery = `{__typename}`
)

// Request is a GraphQL-over-HTTP request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response is a GraphQL-over-HTTP response body.
type Response struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// GraphQLError is one entry of the "errors" array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns extensions.code, or "".
func (e GraphQLError) Code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

// CheckinData is the "data" of the Checkin operation.
type CheckinData struct {
	Checkin *models.CheckinRecord `json:"checkin"`
}

// CheckoutData is the "data" of the Checkout operation.
type CheckoutData struct {
	Checkout *models.CheckinRecord `json:"checkout"`
}

// LoginPayload is the result of the login mutation.
type LoginPayload struct {
	Token string `json:"token"`
}

// LoginData is the "data" of the Login operation.
type LoginData struct {
	Login *LoginPayload `json:"login"`
}
