package models

// ChatReply is the whole-response payload of the backend chat endpoint.
type ChatReply struct {
	Response   string `json:"response"`
	ResponseID string `json:"responseID"`
}

// Profile is the visitor profile kept by the backend.
type Profile struct {
	College string `json:"college"`
	Major   string `json:"major"`
	Other   string `json:"other"`
}

// AuthState is the authorization outcome of the last check, together with the suggestion prompts drawn
// for the logged-in welcome block. Suggestions is empty when Authorized is false.
type AuthState struct {
	Authorized  bool
	Suggestions []string
}
