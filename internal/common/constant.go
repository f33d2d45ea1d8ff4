package common

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "session_token"

// AuthorizationHeaderName carries "Bearer <token>" for non-browser clients.
const AuthorizationHeaderName = "Authorization"

// CodeLength is the number of decimal digits in a one-time code.
const CodeLength = 6
