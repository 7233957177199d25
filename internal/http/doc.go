// Package http provides the HTTP client used to fetch feed archives.
//
// This package handles:
//   - Connection pooling sized for many concurrent hosts
//   - Bounded connect, TLS handshake, header and whole-request timeouts
//   - A default header set (browser user agent, keep-alive) with per-call extras
//   - Mapping of non-2xx status codes to sentinel errors
//   - Permanent vs transient failure classification
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	resp, err := client.Get(ctx, url, extraHeaders)
//	if err != nil {
//	    transient := !http.IsPermanent(err)
//	}
//	defer resp.Body.Close()
//
// A Get makes exactly one attempt.
package http
