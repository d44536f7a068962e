// Package log provides slog loggers that never print credentials.
//
// Board configuration may carry a session cookie or auth headers, and the
// fetcher logs URLs and request headers. The SecureHandler masks:
//   - Attributes named after credentials (cookie, authorization, password)
//   - Token-shaped values (JWT, Bearer, Basic)
//   - Header maps passed as map[string]string or http.Header
//   - Userinfo and credential query parameters inside URLs
//
// Masking applies at every level, including debug output.
//
// # Usage
//
//	logger, err := log.New(os.Stderr, log.FormatJSON, verbose)
//	if err != nil {
//		return err
//	}
//	slog.SetDefault(logger)
//
//	logger.Debug("request", "cookie", "itchio_token=abc") // cookie=***REDACTED***
package log
