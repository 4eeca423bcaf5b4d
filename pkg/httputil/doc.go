// Package httputil provides HTTP utilities shared by the orgrollup handlers.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, summary)
//	httputil.WriteConflict(w, "rollup run already in progress")
//	httputil.WriteErrorWithData(w, http.StatusBadGateway, err, partialSummary)
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
package httputil
