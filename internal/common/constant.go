package common

// AuthorizationHeader is the HTTP header used to carry the access token on
// outbound requests to the remote authority and on local gateway requests.
const AuthorizationHeader = "Authorization"

// BearerPrefix is the expected scheme prefix of the Authorization header.
const BearerPrefix = "Bearer "

// Meta keys under which the active session is persisted. The token and the
// session id are stored independently so a malformed token can be detected
// without losing the session id (and vice versa).
const (
	MetaKeySessionToken = "session_token"
	MetaKeySessionID    = "session_id"
)
